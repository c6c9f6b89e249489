// internal/handler/command_handler.go
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dnc-service/internal/dispatcher"
	"dnc-service/internal/model"
	"dnc-service/internal/utils"
)

// CommandExecutor runs commands on the connected controller
type CommandExecutor interface {
	Submit(cmd *model.Command, callback dispatcher.Callback) (string, error)
	DefaultTimeout() time.Duration
	ReadData(ctx context.Context, address string, length int) model.CommandResult
	WriteData(ctx context.Context, address, data string) model.CommandResult
	ExecuteProgram(ctx context.Context, programNumber string, parameters map[string]interface{}, program string) model.CommandResult
	QueryStatus(ctx context.Context, queryType string) model.CommandResult
	QueryDeviceStatus(ctx context.Context) (*model.DeviceStatus, error)
	Stats() model.StatsSnapshot
	History(limit int) []model.CommandRecord
	ResetStats()
}

// CommandHandler handles command, device status and stats requests
type CommandHandler struct {
	executor CommandExecutor
	logger   *utils.ServiceLogger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(executor CommandExecutor, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{
		executor: executor,
		logger:   utils.NewServiceLogger(logger, "command-handler"),
	}
}

// RegisterRoutes registers command routes
func (h *CommandHandler) RegisterRoutes(router *gin.RouterGroup) {
	commands := router.Group("/commands")
	{
		commands.POST("/read", h.Read)
		commands.POST("/write", h.Write)
		commands.POST("/execute", h.Execute)
		commands.POST("/query", h.Query)
	}

	router.GET("/device/status", h.DeviceStatus)

	stats := router.Group("/stats")
	{
		stats.GET("", h.GetStats)
		stats.DELETE("", h.ResetStats)
		stats.GET("/history", h.GetHistory)
	}
}

// ReadRequest reads a controller variable range
type ReadRequest struct {
	Address string `json:"address" binding:"required"`
	Length  int    `json:"length" binding:"required,min=1"`
}

// WriteRequest sets a controller variable
type WriteRequest struct {
	Address string `json:"address" binding:"required"`
	Data    string `json:"data"`
}

// ExecuteRequest starts a program
type ExecuteRequest struct {
	ProgramNumber string                 `json:"program_number" binding:"required"`
	Parameters    map[string]interface{} `json:"parameters"`
	Program       string                 `json:"program"`
}

// QueryRequest asks for controller state
type QueryRequest struct {
	QueryType string `json:"query_type" binding:"required"`
}

// AcceptedResponse is returned for asynchronous submissions
type AcceptedResponse struct {
	ID string `json:"id"`
}

// Read reads controller data
// @Summary Read controller data
// @Tags Commands
// @Accept json
// @Produce json
// @Param async query bool false "Submit without waiting"
// @Param request body ReadRequest true "Read request"
// @Success 200 {object} utils.APIResponse{data=model.CommandResult}
// @Success 202 {object} utils.APIResponse{data=AcceptedResponse}
// @Router /api/v1/commands/read [post]
func (h *CommandHandler) Read(c *gin.Context) {
	var req ReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if isAsync(c) {
		h.submit(c, model.NewReadCommand("", req.Address, req.Length, h.executor.DefaultTimeout()))
		return
	}
	utils.ResultResponse(c, h.executor.ReadData(c.Request.Context(), req.Address, req.Length))
}

// Write writes controller data
// @Summary Write controller data
// @Tags Commands
// @Accept json
// @Produce json
// @Param async query bool false "Submit without waiting"
// @Param request body WriteRequest true "Write request"
// @Success 200 {object} utils.APIResponse{data=model.CommandResult}
// @Success 202 {object} utils.APIResponse{data=AcceptedResponse}
// @Router /api/v1/commands/write [post]
func (h *CommandHandler) Write(c *gin.Context) {
	var req WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if isAsync(c) {
		h.submit(c, model.NewWriteCommand("", req.Address, req.Data, h.executor.DefaultTimeout()))
		return
	}
	utils.ResultResponse(c, h.executor.WriteData(c.Request.Context(), req.Address, req.Data))
}

// Execute starts a controller program
// @Summary Execute a program
// @Tags Commands
// @Accept json
// @Produce json
// @Param async query bool false "Submit without waiting"
// @Param request body ExecuteRequest true "Execute request"
// @Success 200 {object} utils.APIResponse{data=model.CommandResult}
// @Success 202 {object} utils.APIResponse{data=AcceptedResponse}
// @Router /api/v1/commands/execute [post]
func (h *CommandHandler) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if isAsync(c) {
		// Program runs get twice the default window, as on the synchronous path
		h.submit(c, model.NewExecuteCommand("", req.ProgramNumber, req.Parameters, req.Program, 2*h.executor.DefaultTimeout()))
		return
	}
	utils.ResultResponse(c, h.executor.ExecuteProgram(c.Request.Context(), req.ProgramNumber, req.Parameters, req.Program))
}

// Query queries controller state
// @Summary Query controller state
// @Tags Commands
// @Accept json
// @Produce json
// @Param async query bool false "Submit without waiting"
// @Param request body QueryRequest true "Query request"
// @Success 200 {object} utils.APIResponse{data=model.CommandResult}
// @Success 202 {object} utils.APIResponse{data=AcceptedResponse}
// @Router /api/v1/commands/query [post]
func (h *CommandHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if isAsync(c) {
		h.submit(c, model.NewQueryCommand("", req.QueryType, h.executor.DefaultTimeout()))
		return
	}
	utils.ResultResponse(c, h.executor.QueryStatus(c.Request.Context(), req.QueryType))
}

// submit queues cmd; its result is delivered on the event stream
func (h *CommandHandler) submit(c *gin.Context, cmd *model.Command) {
	id, err := h.executor.Submit(cmd, nil)
	if err != nil {
		h.logger.Warn("Command rejected",
			zap.String("command_id", cmd.ID),
			zap.String("kind", string(cmd.Kind)),
			zap.Error(err),
		)
		utils.KindErrorResponse(c, "Command rejected", err)
		return
	}

	utils.SuccessResponse(c, http.StatusAccepted, "Command accepted", AcceptedResponse{ID: id})
}

// DeviceStatus queries and decodes the controller status
// @Summary Device status
// @Tags Device
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.DeviceStatus}
// @Failure 503 {object} utils.APIResponse
// @Router /api/v1/device/status [get]
func (h *CommandHandler) DeviceStatus(c *gin.Context) {
	status, err := h.executor.QueryDeviceStatus(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to query device status", zap.Error(err))
		utils.KindErrorResponse(c, "Failed to query device status", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device status retrieved", status)
}

// GetStats returns the command statistics
// @Summary Command statistics
// @Tags Stats
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.StatsSnapshot}
// @Router /api/v1/stats [get]
func (h *CommandHandler) GetStats(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Statistics retrieved", h.executor.Stats())
}

// ResetStats clears counters and history
// @Summary Reset command statistics
// @Tags Stats
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Router /api/v1/stats [delete]
func (h *CommandHandler) ResetStats(c *gin.Context) {
	h.executor.ResetStats()
	h.logger.Info("Command statistics reset")
	utils.SuccessResponse(c, http.StatusOK, "Statistics reset", h.executor.Stats())
}

// GetHistory returns recent command records, oldest first
// @Summary Command history
// @Tags Stats
// @Produce json
// @Param limit query int false "Maximum records"
// @Success 200 {object} utils.APIResponse
// @Router /api/v1/stats/history [get]
func (h *CommandHandler) GetHistory(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	records := h.executor.History(limit)
	utils.SuccessResponse(c, http.StatusOK, "History retrieved", gin.H{
		"records": records,
		"count":   len(records),
	})
}

func isAsync(c *gin.Context) bool {
	async, _ := strconv.ParseBool(c.Query("async"))
	return async
}

// queryLimit parses ?limit=; an absent limit is 0
func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, model.Errorf(model.ErrorKindValidation, "limit", "limit must be a non-negative integer, got %q", raw)
	}
	return limit, nil
}
