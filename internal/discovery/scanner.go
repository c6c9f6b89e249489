// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"dnc-service/internal/model"
)

// Scanner finds candidate controller endpoints on one transport
type Scanner interface {
	Scan(ctx context.Context) ([]*Endpoint, error)
	Type() model.TransportKind
	Available() bool
}

// Endpoint is a local attachment point a controller may sit behind.
// Params is pre-filled so it can be posted back to the connection API.
type Endpoint struct {
	Transport    model.TransportKind    `json:"transport"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	SerialNumber string                 `json:"serial_number,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Params       model.ConnectionParams `json:"params"`
}

// Manager runs the registered scanners
type Manager struct {
	mu       sync.RWMutex
	scanners map[model.TransportKind]Scanner
	logger   *zap.Logger
}

// NewManager creates an empty scanner manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		scanners: make(map[model.TransportKind]Scanner),
		logger:   logger.With(zap.String("component", "discovery")),
	}
}

// Register adds a scanner, replacing any scanner of the same type
func (m *Manager) Register(scanner Scanner) {
	m.mu.Lock()
	m.scanners[scanner.Type()] = scanner
	m.mu.Unlock()

	m.logger.Info("Scanner registered", zap.String("type", string(scanner.Type())))
}

// ScanAll runs every available scanner. A failing scanner is logged and skipped.
func (m *Manager) ScanAll(ctx context.Context) []*Endpoint {
	endpoints := make([]*Endpoint, 0)
	for _, scanner := range m.sorted() {
		if !scanner.Available() {
			m.logger.Debug("Scanner not available, skipping", zap.String("type", string(scanner.Type())))
			continue
		}

		found, err := scanner.Scan(ctx)
		if err != nil {
			m.logger.Error("Scanner failed", zap.String("type", string(scanner.Type())), zap.Error(err))
			continue
		}

		endpoints = append(endpoints, found...)
		m.logger.Info("Scanner completed",
			zap.String("type", string(scanner.Type())),
			zap.Int("endpoints_found", len(found)),
		)
	}
	return endpoints
}

// ScanByType runs the scanner for one transport
func (m *Manager) ScanByType(ctx context.Context, kind model.TransportKind) ([]*Endpoint, error) {
	m.mu.RLock()
	scanner, ok := m.scanners[kind]
	m.mu.RUnlock()

	if !ok {
		return nil, model.NewError(model.ErrorKindValidation, "discovery scan", fmt.Errorf("no scanner for transport %s", kind))
	}
	if !scanner.Available() {
		return nil, model.NewError(model.ErrorKindConnection, "discovery scan", fmt.Errorf("scanner %s not available on this host", kind))
	}
	return scanner.Scan(ctx)
}

// Available lists the transports whose scanner can run on this host
func (m *Manager) Available() []model.TransportKind {
	available := make([]model.TransportKind, 0)
	for _, scanner := range m.sorted() {
		if scanner.Available() {
			available = append(available, scanner.Type())
		}
	}
	return available
}

func (m *Manager) sorted() []Scanner {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scanners := make([]Scanner, 0, len(m.scanners))
	for _, s := range m.scanners {
		scanners = append(scanners, s)
	}
	sort.Slice(scanners, func(i, j int) bool { return scanners[i].Type() < scanners[j].Type() })
	return scanners
}
