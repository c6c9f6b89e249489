// internal/driver/factory.go
package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dnc-service/internal/driver/envelope"
	"dnc-service/internal/model"
	"dnc-service/internal/transport"
	"dnc-service/pkg/driver"
)

// TransportBuilder creates an unopened transport for params
type TransportBuilder func(params *model.ConnectionParams, logger *zap.Logger) (transport.Transport, error)

// Link is a live adapter/transport pair for one endpoint
type Link struct {
	Adapter   driver.Adapter
	Transport transport.Transport
	Params    model.ConnectionParams
	OpenedAt  time.Time
}

// LinkInfo is a read-only view of a cached link
type LinkInfo struct {
	Key       string              `json:"key"`
	Vendor    model.Vendor        `json:"vendor"`
	Transport model.TransportKind `json:"transport"`
	Address   string              `json:"address"`
	Alive     bool                `json:"alive"`
	OpenedAt  time.Time           `json:"opened_at"`
}

func (l *Link) info() LinkInfo {
	return LinkInfo{
		Key:       l.Params.Key(),
		Vendor:    l.Params.Vendor,
		Transport: l.Params.Transport,
		Address:   l.Params.Address(),
		Alive:     l.Transport.IsAlive(),
		OpenedAt:  l.OpenedAt,
	}
}

// Factory builds and caches links so an endpoint is never opened twice
type Factory struct {
	registry *Registry
	build    TransportBuilder
	logger   *zap.Logger

	mu    sync.Mutex
	links map[string]*Link
	// opening serializes opens per endpoint; mu is never held across Open
	opening map[string]*sync.Mutex
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithTransportBuilder replaces the transport constructor
func WithTransportBuilder(build TransportBuilder) FactoryOption {
	return func(f *Factory) {
		f.build = build
	}
}

// NewFactory creates a new protocol factory
func NewFactory(registry *Registry, logger *zap.Logger, opts ...FactoryOption) *Factory {
	f := &Factory{
		registry: registry,
		build:    transport.New,
		logger:   logger.With(zap.String("component", "protocol-factory")),
		links:    make(map[string]*Link),
		opening:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ValidateParams checks params and that the vendor has an adapter
func (f *Factory) ValidateParams(params model.ConnectionParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if !f.registry.IsSupported(params.Vendor) {
		return model.Errorf(model.ErrorKindValidation, "validate connection params", "unsupported vendor: %s", params.Vendor)
	}
	return nil
}

// GetOrCreate returns the cached link for params or opens a new one.
// A link enters the cache only after its transport opened successfully.
func (f *Factory) GetOrCreate(ctx context.Context, params model.ConnectionParams) (*Link, error) {
	if err := f.ValidateParams(params); err != nil {
		return nil, err
	}

	key := params.Key()

	keyLock := f.keyLock(key)
	keyLock.Lock()
	defer keyLock.Unlock()

	f.mu.Lock()
	link, ok := f.links[key]
	alive := ok && link.Transport.IsAlive()
	if ok && !alive {
		delete(f.links, key)
	}
	f.mu.Unlock()

	if alive {
		f.logger.Debug("Reusing cached link", zap.String("key", key))
		return link, nil
	}
	if ok {
		f.logger.Warn("Cached link is dead, reopening", zap.String("key", key))
		if err := link.Transport.Close(); err != nil {
			f.logger.Warn("Failed to close dead link", zap.String("key", key), zap.Error(err))
		}
	}

	adapter, err := f.registry.Create(params.Vendor)
	if err != nil {
		return nil, err
	}
	if params.Transport == model.TransportChannel {
		adapter = envelope.Wrap(adapter)
	}

	tr, err := f.build(&params, f.logger)
	if err != nil {
		return nil, err
	}

	if err := tr.Open(ctx); err != nil {
		if model.KindOf(err) != model.ErrorKindConnection {
			err = model.NewError(model.ErrorKindConnection, "open transport", err)
		}
		f.logger.Error("Failed to open link",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, err
	}

	link = &Link{
		Adapter:   adapter,
		Transport: tr,
		Params:    params,
		OpenedAt:  time.Now(),
	}
	f.mu.Lock()
	f.links[key] = link
	f.mu.Unlock()

	f.logger.Info("Link opened",
		zap.String("key", key),
		zap.String("vendor", string(params.Vendor)),
		zap.String("transport", string(params.Transport)),
	)
	return link, nil
}

// keyLock returns the open lock of one endpoint
func (f *Factory) keyLock(key string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.opening[key]
	if !ok {
		l = &sync.Mutex{}
		f.opening[key] = l
	}
	return l
}

// Disconnect closes and evicts the link for params. Unknown params are a no-op.
// An open in progress for the same endpoint finishes first.
func (f *Factory) Disconnect(params model.ConnectionParams) error {
	key := params.Key()

	keyLock := f.keyLock(key)
	keyLock.Lock()
	defer keyLock.Unlock()

	f.mu.Lock()
	link, ok := f.links[key]
	delete(f.links, key)
	f.mu.Unlock()

	if !ok {
		return nil
	}
	if err := link.Transport.Close(); err != nil {
		return fmt.Errorf("failed to close link %s: %w", key, err)
	}
	f.logger.Info("Link closed", zap.String("key", key))
	return nil
}

// DisconnectAll closes every cached link. All links are attempted;
// the failures are returned together.
func (f *Factory) DisconnectAll() error {
	f.mu.Lock()
	links := f.links
	f.links = make(map[string]*Link)
	f.mu.Unlock()

	var errs error
	for key, link := range links {
		if err := link.Transport.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close link %s: %w", key, err))
		}
	}

	if errs != nil {
		f.logger.Warn("Some links failed to close",
			zap.Int("links", len(links)),
			zap.Int("failures", len(multierr.Errors(errs))),
			zap.Error(errs),
		)
	} else {
		f.logger.Info("All links closed", zap.Int("links", len(links)))
	}
	return errs
}

// Connected lists the cached links
func (f *Factory) Connected() []LinkInfo {
	f.mu.Lock()
	defer f.mu.Unlock()

	infos := make([]LinkInfo, 0, len(f.links))
	for _, link := range f.links {
		infos = append(infos, link.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// Status returns the cached link for params, if any
func (f *Factory) Status(params model.ConnectionParams) (LinkInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	link, ok := f.links[params.Key()]
	if !ok {
		return LinkInfo{}, false
	}
	return link.info(), true
}

// SupportedVendors lists vendors with a registered adapter
func (f *Factory) SupportedVendors() []model.Vendor {
	return f.registry.ListVendors()
}
