// internal/handler/discovery_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dnc-service/internal/discovery"
	"dnc-service/internal/model"
	"dnc-service/internal/utils"
)

const discoveryTimeout = 30 * time.Second

// EndpointScanner finds local endpoints a controller may be attached to
type EndpointScanner interface {
	ScanAll(ctx context.Context) []*discovery.Endpoint
	ScanByType(ctx context.Context, kind model.TransportKind) ([]*discovery.Endpoint, error)
	Available() []model.TransportKind
}

// DiscoveryHandler handles endpoint discovery requests
type DiscoveryHandler struct {
	scanner EndpointScanner
	logger  *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(scanner EndpointScanner, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		scanner: scanner,
		logger:  utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	scans := router.Group("/discovery")
	{
		scans.GET("", h.ScanAll)
		scans.GET("/scanners", h.ListScanners)
		scans.GET("/:transport", h.ScanByType)
	}
}

// ScanAll runs every available scanner
// @Summary Discover endpoints
// @Description Enumerate local serial ports and USB devices a controller may be attached to
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Router /api/v1/discovery [get]
func (h *DiscoveryHandler) ScanAll(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), discoveryTimeout)
	defer cancel()

	start := time.Now()
	endpoints := h.scanner.ScanAll(ctx)

	h.logger.Info("Endpoint discovery completed",
		zap.Int("endpoints_found", len(endpoints)),
		zap.Duration("duration", time.Since(start)),
	)

	utils.SuccessResponse(c, http.StatusOK, "Discovery completed", gin.H{
		"endpoints": endpoints,
		"count":     len(endpoints),
	})
}

// ScanByType runs the scanner of one transport
// @Summary Discover endpoints on one transport
// @Tags Discovery
// @Produce json
// @Param transport path string true "serial or usb"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Router /api/v1/discovery/{transport} [get]
func (h *DiscoveryHandler) ScanByType(c *gin.Context) {
	kind, err := model.ParseTransportKind(c.Param("transport"))
	if err != nil {
		utils.KindErrorResponse(c, "Invalid transport", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), discoveryTimeout)
	defer cancel()

	endpoints, err := h.scanner.ScanByType(ctx, kind)
	if err != nil {
		h.logger.Warn("Endpoint discovery failed", zap.String("transport", string(kind)), zap.Error(err))
		utils.KindErrorResponse(c, "Discovery failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Discovery completed", gin.H{
		"transport": kind,
		"endpoints": endpoints,
		"count":     len(endpoints),
	})
}

// ListScanners returns the transports that can be scanned on this host
// @Summary Available scanners
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Router /api/v1/discovery/scanners [get]
func (h *DiscoveryHandler) ListScanners(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Scanners retrieved", gin.H{
		"scanners": h.scanner.Available(),
	})
}
