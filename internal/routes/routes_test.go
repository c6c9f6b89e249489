// internal/routes/routes_test.go
package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dnc-service/internal/config"
	"dnc-service/internal/discovery"
	"dnc-service/internal/handler"
	"dnc-service/internal/middleware"
	"dnc-service/internal/model"
)

type idleDevice struct{}

func (idleDevice) Status() model.ConnectionStatus {
	return model.ConnectionStatus{State: model.StateDisconnected}
}
func (idleDevice) Stats() model.StatsSnapshot { return model.StatsSnapshot{} }
func (idleDevice) QueueLength() int           { return 0 }

func testRouter() http.Handler {
	cfg := &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"https://hmi.local"}},
		App:    config.AppConfig{Name: "dnc-service", Version: "test", Environment: "test"},
	}
	logger := zap.NewNop()

	return NewRouter(cfg, logger, Handlers{
		Health:    handler.NewHealthHandler(nil, idleDevice{}, cfg, logger),
		Discovery: handler.NewDiscoveryHandler(discovery.NewManager(logger), logger),
	}).SetupRouter()
}

func TestRouterMountsHealthAtRoot(t *testing.T) {
	router := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestRouterMountsAPIUnderVersion(t *testing.T) {
	router := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/discovery/scanners", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get(middleware.RequestIDHeader))

	// Handlers left nil are not mounted
	req = httptest.NewRequest(http.MethodGet, "/api/v1/connection", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterCORSAllowsConfiguredOrigin(t *testing.T) {
	router := testRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/discovery", nil)
	req.Header.Set("Origin", "https://hmi.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "https://hmi.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}
