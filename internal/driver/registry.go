// internal/driver/registry.go
package driver

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"dnc-service/internal/model"
	"dnc-service/pkg/driver"
)

// AdapterFactory creates a protocol adapter for one controller family
type AdapterFactory func() driver.Adapter

// Registry manages protocol adapter registration and creation
type Registry struct {
	adapters map[model.Vendor]AdapterFactory
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewRegistry creates a new adapter registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		adapters: make(map[model.Vendor]AdapterFactory),
		logger:   logger,
	}
}

// Register registers an adapter factory for a vendor, replacing any previous one
func (r *Registry) Register(vendor model.Vendor, factory AdapterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[vendor] = factory
	r.logger.Info("Protocol adapter registered", zap.String("vendor", string(vendor)))
}

// Create creates an adapter instance
func (r *Registry) Create(vendor model.Vendor) (driver.Adapter, error) {
	r.mu.RLock()
	factory, exists := r.adapters[vendor]
	r.mu.RUnlock()

	if !exists {
		return nil, model.Errorf(model.ErrorKindValidation, "create adapter", "unsupported vendor: %s", vendor)
	}
	return factory(), nil
}

// IsSupported checks if a vendor has an adapter
func (r *Registry) IsSupported(vendor model.Vendor) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.adapters[vendor]
	return exists
}

// ListVendors returns all registered vendors in name order
func (r *Registry) ListVendors() []model.Vendor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vendors := make([]model.Vendor, 0, len(r.adapters))
	for vendor := range r.adapters {
		vendors = append(vendors, vendor)
	}
	sort.Slice(vendors, func(i, j int) bool { return vendors[i] < vendors[j] })
	return vendors
}
