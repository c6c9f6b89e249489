// internal/utils/response.go
package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dnc-service/internal/model"
)

// APIResponse represents standard API response structure
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError represents error information
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	response := APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	}

	c.JSON(statusCode, response)
}

// ErrorResponse sends an error response
func ErrorResponse(c *gin.Context, statusCode int, message string, err error) {
	apiError := &APIError{
		Code:    getErrorCode(statusCode),
		Message: message,
	}

	if err != nil {
		apiError.Details = err.Error()
	}

	response := APIResponse{
		Success:   false,
		Message:   message,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	}

	c.JSON(statusCode, response)
}

// KindErrorResponse sends an error response whose status follows the error kind
func KindErrorResponse(c *gin.Context, message string, err error) {
	statusCode := StatusForKind(model.KindOf(err))

	response := APIResponse{
		Success: false,
		Message: message,
		Error: &APIError{
			Code:    string(model.KindOf(err)),
			Message: message,
			Details: err.Error(),
		},
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	}

	c.JSON(statusCode, response)
}

// ResultResponse sends a command result. A failed result keeps the result as data
// and takes its status from the error kind.
func ResultResponse(c *gin.Context, result model.CommandResult) {
	if result.Success {
		SuccessResponse(c, http.StatusOK, "Command completed", result)
		return
	}

	response := APIResponse{
		Success: false,
		Message: "Command failed",
		Data:    result,
		Error: &APIError{
			Code:    string(result.ErrorKind),
			Message: "Command failed",
			Details: result.Error,
		},
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	}

	c.JSON(StatusForKind(result.ErrorKind), response)
}

// StatusForKind maps an error kind to an HTTP status
func StatusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.ErrorKindValidation:
		return http.StatusBadRequest
	case model.ErrorKindConnection, model.ErrorKindCancelled:
		return http.StatusServiceUnavailable
	case model.ErrorKindTimeout:
		return http.StatusGatewayTimeout
	case model.ErrorKindProtocol, model.ErrorKindIO:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// getRequestID extracts request ID from context
func getRequestID(c *gin.Context) string {
	if requestID, ok := c.Get("request_id"); ok {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}

// getErrorCode returns error code based on HTTP status
func getErrorCode(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusTooManyRequests:
		return "RATE_LIMIT_EXCEEDED"
	case http.StatusInternalServerError:
		return "INTERNAL_SERVER_ERROR"
	case http.StatusBadGateway:
		return "BAD_GATEWAY"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "GATEWAY_TIMEOUT"
	default:
		return "UNKNOWN_ERROR"
	}
}
