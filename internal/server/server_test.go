package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/cinerelay/internal/config"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule"
	"github.com/mantonx/cinerelay/internal/modules/modulemanager"
	"github.com/mantonx/cinerelay/internal/modules/proxymodule"
	"github.com/mantonx/cinerelay/internal/modules/proxymodule/proxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), "cinerelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  enabled: false\nlogging:\n  level: error\n"), 0o644))
	cm := config.NewConfigManager()
	require.NoError(t, cm.LoadConfig(path))

	registry := modulemanager.NewRegistry()
	registry.Register(&proxymodule.Module{})
	registry.Register(&acquisitionmodule.Module{})

	s, err := NewWithRegistry(cm, registry)
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status   string                                `json:"status"`
		Database bool                                  `json:"database"`
		Modules  map[string]modulemanager.HealthStatus `json:"modules"`
		System   SystemStats                           `json:"system"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.False(t, body.Database)
	assert.Contains(t, body.Modules, proxymodule.ModuleID)
	assert.Contains(t, body.Modules, acquisitionmodule.ModuleID)
	assert.Positive(t, body.System.Goroutines)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServer_MetricsAndCORS(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cinerelay_acquisitions_active")

	w = serve(s, httptest.NewRequest(http.MethodOptions, "/api/acquisitions", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Seedr-Cookie")

	w = serve(s, httptest.NewRequest(http.MethodOptions, "/api/proxy/fs/folder/0/items", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_ModuleRoutesMounted(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/acquisitions/unknown", nil)
	req.Header.Set(proxy.CredentialHeader, "RSESS_session=abc")
	w := serve(s, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(s, httptest.NewRequest(http.MethodPost, "/api/acquisitions", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, s.Shutdown(context.Background()), "shutdown is idempotent")
}
