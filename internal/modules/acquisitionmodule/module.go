// Package acquisitionmodule runs acquisitions: a hash or magnet goes in, a
// stream URL comes out. It talks to the backend through the proxy module.
package acquisitionmodule

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/cinerelay/internal/clock"
	"github.com/mantonx/cinerelay/internal/config"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/api"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/core"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/repository"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/seedr"
	"github.com/mantonx/cinerelay/internal/modules/modulemanager"
	"github.com/mantonx/cinerelay/internal/modules/proxymodule"
	"github.com/mantonx/cinerelay/internal/modules/proxymodule/proxy"
	"github.com/mantonx/cinerelay/internal/services"
	"gorm.io/gorm"
)

const (
	// ModuleID is the unique identifier for the acquisition module
	ModuleID = "system.acquisition"

	// ModuleName is the display name for the acquisition module
	ModuleName = "Acquisition Manager"
)

// Module implements acquisitions as a module
type Module struct {
	manager *core.Manager
	handler *api.Handler
	logger  hclog.Logger
}

// ID returns the unique module identifier
func (m *Module) ID() string { return ModuleID }

// Name returns the module display name
func (m *Module) Name() string { return ModuleName }

// Core returns whether this is a core module
func (m *Module) Core() bool { return true }

// Dependencies returns the modules that must be initialized first
func (m *Module) Dependencies() []string {
	return []string{proxymodule.ModuleID}
}

// Migrate creates the history table
func (m *Module) Migrate(db *gorm.DB) error {
	if err := repository.NewHistoryRepository(db).Migrate(); err != nil {
		return fmt.Errorf("failed to migrate acquisition history: %w", err)
	}
	return nil
}

// Init builds the account client, the run manager and the HTTP handler
func (m *Module) Init(env *modulemanager.Environment) error {
	if env.Config == nil {
		return fmt.Errorf("acquisition module requires configuration")
	}
	m.logger = hclog.NewNullLogger()
	if env.Logger != nil {
		m.logger = env.Logger.Named("acquisition")
	}

	client, err := newClient(env.Config.GetConfig().Cloud, m.logger)
	if err != nil {
		return err
	}

	cfg := core.ManagerConfig{
		Accounts: func(store seedr.SessionStore) core.Account { return client.WithStore(store) },
		Options: func() core.Options {
			return core.OptionsFromConfig(env.Config.GetConfig().Acquisition)
		},
		Clock:  clock.New(),
		Bus:    env.Bus,
		Logger: m.logger,
	}

	var history api.HistoryReader
	if env.DB != nil {
		repo := repository.NewHistoryRepository(env.DB)
		cfg.History = repo
		history = repo
	}

	m.manager = core.NewManager(cfg)
	m.handler = api.NewHandler(m.manager, client, history, env.Bus, m.logger)
	services.RegisterService(services.AcquisitionManager, m.manager)

	env.Config.AddWatcher(func(_, next *config.Config) {
		m.logger.Info("acquisition settings reloaded, applied to new runs",
			"poll_interval", next.Acquisition.PollInterval,
			"max_attempts", next.Acquisition.MaxAttempts)
	})
	return nil
}

// newClient talks to a remote proxy when one is configured and to the
// in-process forwarder otherwise
func newClient(cloud config.CloudConfig, logger hclog.Logger) (*seedr.Client, error) {
	cfg := seedr.Config{
		ProxyURL:          cloud.ProxyURL,
		Timeout:           cloud.RequestTimeout,
		RequestsPerSecond: cloud.RequestsPerSecond,
		StreamURLTTL:      cloud.StreamURLTTL,
	}
	if cloud.ProxyURL != "" {
		return seedr.NewClient(cfg, nil, nil, logger), nil
	}

	forwarder, err := services.GetService[*proxy.Forwarder](services.ProxyForwarder)
	if err != nil {
		return nil, fmt.Errorf("in-process proxy unavailable: %w", err)
	}
	return seedr.NewInProcessClient(cfg, forwarder, nil, logger), nil
}

// RegisterRoutes mounts the acquisition API
func (m *Module) RegisterRoutes(router gin.IRouter) {
	api.RegisterRoutes(router, m.handler)
}

// Manager returns the run manager
func (m *Module) Manager() *core.Manager {
	return m.manager
}

// Shutdown cancels in-flight runs
func (m *Module) Shutdown(ctx context.Context) error {
	if m.manager == nil {
		return nil
	}
	return m.manager.Shutdown(ctx)
}

// HealthCheck reports the number of runs in flight
func (m *Module) HealthCheck(context.Context) modulemanager.HealthStatus {
	if m.manager == nil {
		return modulemanager.HealthStatus{Status: modulemanager.HealthStateUnhealthy, Message: "not initialized", LastChecked: time.Now()}
	}
	active := 0
	for _, snap := range m.manager.Runs() {
		if !snap.State.Terminal() {
			active++
		}
	}
	return modulemanager.HealthStatus{
		Status:      modulemanager.HealthStateHealthy,
		LastChecked: time.Now(),
		Details:     map[string]interface{}{"active_runs": active},
	}
}
