// internal/driver/registry_init.go
package driver

import (
	"go.uber.org/zap"

	"dnc-service/internal/driver/fanuc"
	"dnc-service/internal/driver/rexroth"
	"dnc-service/internal/model"
)

// RegisterDefaultAdapters registers every implemented controller family.
// Siemens and Mitsubishi are known vendors without an adapter yet.
func RegisterDefaultAdapters(registry *Registry, logger *zap.Logger) {
	registry.Register(model.VendorRexroth, rexroth.NewAdapter)
	registry.Register(model.VendorFanuc, fanuc.NewAdapter)

	logger.Info("Default protocol adapters registered",
		zap.Int("vendors", len(registry.ListVendors())),
	)
}
