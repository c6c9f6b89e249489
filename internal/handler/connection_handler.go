// internal/handler/connection_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dnc-service/internal/driver"
	"dnc-service/internal/model"
	"dnc-service/internal/utils"
)

// ConnectionController drives the controller connection
type ConnectionController interface {
	Connect(ctx context.Context, params model.ConnectionParams) error
	Disconnect(ctx context.Context) error
	Status() model.ConnectionStatus
	Params() (model.ConnectionParams, bool)
	QueueLength() int
}

// ProtocolCatalog lists supported vendors and open links
type ProtocolCatalog interface {
	SupportedVendors() []model.Vendor
	Connected() []driver.LinkInfo
}

// ConnectionHandler handles connection and protocol requests
type ConnectionHandler struct {
	controller ConnectionController
	catalog    ProtocolCatalog
	defaults   func(*model.ConnectionParams)
	listPorts  func() ([]string, error)
	logger     *utils.ServiceLogger
}

// NewConnectionHandler creates a new connection handler. defaults fills unset
// request fields; listPorts enumerates serial ports on this host.
func NewConnectionHandler(
	controller ConnectionController,
	catalog ProtocolCatalog,
	defaults func(*model.ConnectionParams),
	listPorts func() ([]string, error),
	logger *zap.Logger,
) *ConnectionHandler {
	if defaults == nil {
		defaults = func(*model.ConnectionParams) {}
	}
	return &ConnectionHandler{
		controller: controller,
		catalog:    catalog,
		defaults:   defaults,
		listPorts:  listPorts,
		logger:     utils.NewServiceLogger(logger, "connection-handler"),
	}
}

// RegisterRoutes registers connection and protocol routes
func (h *ConnectionHandler) RegisterRoutes(router *gin.RouterGroup) {
	connection := router.Group("/connection")
	{
		connection.POST("", h.Connect)
		connection.DELETE("", h.Disconnect)
		connection.GET("", h.GetStatus)
	}

	protocols := router.Group("/protocols")
	{
		protocols.GET("", h.ListProtocols)
		protocols.GET("/connected", h.ListConnected)
	}

	router.GET("/ports", h.ListPorts)
}

// ConnectRequest describes the endpoint to connect to
type ConnectRequest struct {
	Transport  string              `json:"transport" binding:"required"`
	Vendor     string              `json:"vendor" binding:"required"`
	Serial     model.SerialParams  `json:"serial"`
	Socket     model.SocketParams  `json:"socket"`
	Channel    model.ChannelParams `json:"channel"`
	USB        model.USBParams     `json:"usb"`
	TimeoutMS  int                 `json:"timeout_ms" binding:"min=0"`
	RetryCount int                 `json:"retry_count" binding:"min=0"`
}

// ToParams converts the request into connection parameters
func (r *ConnectRequest) ToParams() (model.ConnectionParams, error) {
	transport, err := model.ParseTransportKind(r.Transport)
	if err != nil {
		return model.ConnectionParams{}, err
	}
	vendor, err := model.ParseVendor(r.Vendor)
	if err != nil {
		return model.ConnectionParams{}, err
	}

	return model.ConnectionParams{
		Transport:  transport,
		Vendor:     vendor,
		Serial:     r.Serial,
		Socket:     r.Socket,
		Channel:    r.Channel,
		USB:        r.USB,
		Timeout:    time.Duration(r.TimeoutMS) * time.Millisecond,
		RetryCount: r.RetryCount,
	}, nil
}

// ConnectionResponse is the connection state plus the active endpoint
type ConnectionResponse struct {
	Status      model.ConnectionStatus  `json:"status"`
	Params      *model.ConnectionParams `json:"params,omitempty"`
	QueueLength int                     `json:"queue_length"`
}

// Connect opens the controller connection
// @Summary Connect to a controller
// @Tags Connection
// @Accept json
// @Produce json
// @Param request body ConnectRequest true "Endpoint"
// @Success 200 {object} utils.APIResponse{data=ConnectionResponse}
// @Failure 400 {object} utils.APIResponse
// @Failure 503 {object} utils.APIResponse
// @Router /api/v1/connection [post]
func (h *ConnectionHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	params, err := req.ToParams()
	if err != nil {
		utils.KindErrorResponse(c, "Invalid connection parameters", err)
		return
	}
	h.defaults(&params)

	if err := h.controller.Connect(c.Request.Context(), params); err != nil {
		h.logger.Error("Failed to connect",
			zap.String("address", params.Address()),
			zap.Error(err),
		)
		utils.KindErrorResponse(c, "Failed to connect", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Connected", h.connectionResponse())
}

// Disconnect closes the controller connection
// @Summary Disconnect from the controller
// @Tags Connection
// @Produce json
// @Success 200 {object} utils.APIResponse{data=ConnectionResponse}
// @Router /api/v1/connection [delete]
func (h *ConnectionHandler) Disconnect(c *gin.Context) {
	if err := h.controller.Disconnect(c.Request.Context()); err != nil {
		// The connection is torn down regardless; report what failed while closing
		h.logger.Warn("Disconnect finished with errors", zap.Error(err))
		utils.KindErrorResponse(c, "Disconnected with errors", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Disconnected", h.connectionResponse())
}

// GetStatus returns the connection status
// @Summary Connection status
// @Tags Connection
// @Produce json
// @Success 200 {object} utils.APIResponse{data=ConnectionResponse}
// @Router /api/v1/connection [get]
func (h *ConnectionHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Connection status retrieved", h.connectionResponse())
}

func (h *ConnectionHandler) connectionResponse() ConnectionResponse {
	resp := ConnectionResponse{
		Status:      h.controller.Status(),
		QueueLength: h.controller.QueueLength(),
	}
	if params, ok := h.controller.Params(); ok {
		resp.Params = &params
	}
	return resp
}

// ListProtocols returns the supported vendors
// @Summary Supported protocols
// @Tags Protocols
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Router /api/v1/protocols [get]
func (h *ConnectionHandler) ListProtocols(c *gin.Context) {
	vendors := h.catalog.SupportedVendors()
	utils.SuccessResponse(c, http.StatusOK, "Supported protocols retrieved", gin.H{
		"vendors": vendors,
		"count":   len(vendors),
	})
}

// ListConnected returns the open protocol links
// @Summary Connected protocol links
// @Tags Protocols
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Router /api/v1/protocols/connected [get]
func (h *ConnectionHandler) ListConnected(c *gin.Context) {
	links := h.catalog.Connected()
	utils.SuccessResponse(c, http.StatusOK, "Connected protocols retrieved", gin.H{
		"links": links,
		"count": len(links),
	})
}

// ListPorts returns the serial ports present on this host
// @Summary Serial ports
// @Tags Protocols
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Failure 500 {object} utils.APIResponse
// @Router /api/v1/ports [get]
func (h *ConnectionHandler) ListPorts(c *gin.Context) {
	if h.listPorts == nil {
		utils.SuccessResponse(c, http.StatusOK, "Serial ports retrieved", gin.H{"ports": []string{}, "count": 0})
		return
	}

	ports, err := h.listPorts()
	if err != nil {
		h.logger.Error("Failed to list serial ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list serial ports", err)
		return
	}
	if ports == nil {
		ports = []string{}
	}

	utils.SuccessResponse(c, http.StatusOK, "Serial ports retrieved", gin.H{
		"ports": ports,
		"count": len(ports),
	})
}
