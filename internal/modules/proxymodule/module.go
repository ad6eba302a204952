// Package proxymodule serves the cloud backend under /api/proxy and shares
// its forwarder with the other modules.
package proxymodule

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/cinerelay/internal/modules/modulemanager"
	"github.com/mantonx/cinerelay/internal/modules/proxymodule/proxy"
	"github.com/mantonx/cinerelay/internal/services"
	"gorm.io/gorm"
)

const (
	// ModuleID is the unique identifier for the proxy module
	ModuleID = "system.proxy"

	// ModuleName is the display name for the proxy module
	ModuleName = "Cloud Proxy"
)

// Module wires the forwarder into the module system
type Module struct {
	forwarder *proxy.Forwarder
	handler   *proxy.Handler
	upstream  string
	logger    hclog.Logger
}

// ID returns the unique module identifier
func (m *Module) ID() string { return ModuleID }

// Name returns the module display name
func (m *Module) Name() string { return ModuleName }

// Core returns whether this is a core module
func (m *Module) Core() bool { return true }

// Migrate is a no-op, the proxy keeps no state
func (m *Module) Migrate(*gorm.DB) error { return nil }

// Init builds the forwarder from the cloud configuration
func (m *Module) Init(env *modulemanager.Environment) error {
	if env.Config == nil {
		return fmt.Errorf("proxy module requires configuration")
	}
	m.logger = hclog.NewNullLogger()
	if env.Logger != nil {
		m.logger = env.Logger.Named("proxy")
	}

	cloud := env.Config.GetConfig().Cloud
	m.upstream = cloud.BaseURL
	m.forwarder = proxy.NewForwarder(proxy.Config{
		BaseURL:    cloud.BaseURL,
		RestPrefix: cloud.RestPrefix,
		UserAgent:  cloud.UserAgent,
		Timeout:    cloud.RequestTimeout,
	}, m.logger)
	m.handler = proxy.NewHandler(m.forwarder, m.logger)

	services.RegisterService(services.ProxyForwarder, m.forwarder)
	m.logger.Info("proxy ready", "upstream", cloud.BaseURL, "rest_prefix", cloud.RestPrefix)
	return nil
}

// RegisterRoutes mounts /api/proxy
func (m *Module) RegisterRoutes(router gin.IRouter) {
	proxy.RegisterRoutes(router, m.handler)
}

// Forwarder returns the module's forwarder
func (m *Module) Forwarder() *proxy.Forwarder {
	return m.forwarder
}

// HealthCheck reports the configured upstream
func (m *Module) HealthCheck(context.Context) modulemanager.HealthStatus {
	status := modulemanager.HealthStatus{
		Status:      modulemanager.HealthStateHealthy,
		LastChecked: time.Now(),
		Details:     map[string]interface{}{"upstream": m.upstream},
	}
	if m.forwarder == nil {
		status.Status = modulemanager.HealthStateUnhealthy
		status.Message = "not initialized"
	}
	return status
}
