package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/cinerelay/internal/api"
	"github.com/mantonx/cinerelay/internal/config"
	"github.com/mantonx/cinerelay/internal/metrics"
	"github.com/mantonx/cinerelay/internal/middleware"
	"github.com/mantonx/cinerelay/internal/modules/modulemanager"
	"github.com/mantonx/cinerelay/internal/modules/proxymodule/proxy"
)

// allowedHeaders are the request headers browsers may send cross-origin
var allowedHeaders = []string{"Content-Type", "Authorization", proxy.CredentialHeader, "X-Request-ID"}

func (s *Server) setupRouter(cfg *config.Config) *gin.Engine {
	r := gin.New()
	if len(cfg.Server.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			s.logger.Warn("ignoring trusted proxies", "error", err)
		}
	}

	r.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		api.ErrorMiddleware(),
		middleware.ErrorLogger(),
		cors(),
	)

	r.GET("/api/health", s.health)
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, metrics.Handler())
	}

	s.registry.RegisterRoutes(r)
	return r
}

// cors lets browser clients on another origin use the API. Preflights for
// the proxy surface fall through to its own OPTIONS handling.
func cors() gin.HandlerFunc {
	allow := strings.Join(allowedHeaders, ", ")
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", allow)

		if c.Request.Method == http.MethodOptions && !strings.HasPrefix(c.Request.URL.Path, proxy.MountPath) {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	modules := s.registry.Health(ctx)
	status := modulemanager.HealthStateHealthy
	for _, h := range modules {
		if h.Status == modulemanager.HealthStateUnhealthy {
			status = modulemanager.HealthStateUnhealthy
			break
		}
	}

	code := http.StatusOK
	if status != modulemanager.HealthStateHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"database": s.db != nil,
		"modules":  modules,
		"system":   collectSystemStats(ctx),
	})
}
