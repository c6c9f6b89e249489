// internal/handler/journal_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dnc-service/internal/model"
	"dnc-service/internal/repository"
	"dnc-service/internal/utils"
)

// JournalHandler serves the persisted command and status journal
type JournalHandler struct {
	commands repository.CommandRepository
	statuses repository.StatusRepository
	logger   *utils.ServiceLogger
}

// NewJournalHandler creates a new journal handler
func NewJournalHandler(commands repository.CommandRepository, statuses repository.StatusRepository, logger *zap.Logger) *JournalHandler {
	return &JournalHandler{
		commands: commands,
		statuses: statuses,
		logger:   utils.NewServiceLogger(logger, "journal-handler"),
	}
}

// RegisterRoutes registers journal routes
func (h *JournalHandler) RegisterRoutes(router *gin.RouterGroup) {
	journal := router.Group("/journal")
	{
		journal.GET("/commands", h.ListCommands)
		journal.GET("/status", h.ListStatus)
	}
}

// ListCommands returns journaled command results, newest first
// @Summary Command journal
// @Tags Journal
// @Produce json
// @Param limit query int false "Maximum entries"
// @Param kind query string false "Command kind"
// @Param failed query bool false "Failed commands only"
// @Param since query string false "RFC3339 lower bound"
// @Success 200 {object} utils.APIResponse
// @Router /api/v1/journal/commands [get]
func (h *JournalHandler) ListCommands(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	filter := &repository.CommandFilter{
		Limit:      limit,
		FailedOnly: c.Query("failed") == "true",
	}
	if kind := c.Query("kind"); kind != "" {
		k := model.CommandKind(kind)
		filter.Kind = &k
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid since", err)
			return
		}
		filter.Since = &t
	}

	entries, err := h.commands.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list journal commands", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list journal commands", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Journal commands retrieved", gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// ListStatus returns journaled connection status changes, newest first
// @Summary Status journal
// @Tags Journal
// @Produce json
// @Param limit query int false "Maximum entries"
// @Success 200 {object} utils.APIResponse
// @Router /api/v1/journal/status [get]
func (h *JournalHandler) ListStatus(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	entries, err := h.statuses.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list status journal", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list status journal", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Status journal retrieved", gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}
