// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dnc-service/internal/config"
	"dnc-service/internal/handler"
	"dnc-service/internal/middleware"
	"dnc-service/internal/utils"
)

// Handlers groups the HTTP handlers the router mounts. Any of them may be nil.
type Handlers struct {
	Health     *handler.HealthHandler
	Connection *handler.ConnectionHandler
	Command    *handler.CommandHandler
	Journal    *handler.JournalHandler
	Discovery  *handler.DiscoveryHandler
	WebSocket  *handler.WebSocketHandler
}

// Router holds all dependencies for routing
type Router struct {
	config   *config.Config
	logger   *zap.Logger
	handlers Handlers
}

// NewRouter creates a new router instance
func NewRouter(config *config.Config, logger *zap.Logger, handlers Handlers) *Router {
	return &Router{
		config:   config,
		logger:   logger,
		handlers: handlers,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() || !r.config.IsDebugEnabled() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(r.logger))

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Server))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	if r.handlers.Health != nil {
		r.handlers.Health.RegisterRoutes(router)
	}

	apiV1 := router.Group("/api/v1")
	if r.handlers.Connection != nil {
		r.handlers.Connection.RegisterRoutes(apiV1)
	}
	if r.handlers.Command != nil {
		r.handlers.Command.RegisterRoutes(apiV1)
	}
	if r.handlers.Journal != nil {
		r.handlers.Journal.RegisterRoutes(apiV1)
	}
	if r.handlers.Discovery != nil {
		r.handlers.Discovery.RegisterRoutes(apiV1)
	}

	if r.handlers.WebSocket != nil {
		r.handlers.WebSocket.RegisterRoutes(router.Group("/ws"))
	}

	r.logger.Info("All routes configured successfully",
		zap.Bool("journal_enabled", r.handlers.Journal != nil),
	)
}
