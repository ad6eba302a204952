// Package server assembles the HTTP process: configuration, logging, the
// event bus, persistence and the module system behind one gin router.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/cinerelay/internal/config"
	"github.com/mantonx/cinerelay/internal/database"
	"github.com/mantonx/cinerelay/internal/events"
	"github.com/mantonx/cinerelay/internal/logger"
	"github.com/mantonx/cinerelay/internal/modules/modulemanager"
	"gorm.io/gorm"

	// Import all modules to trigger their registration
	_ "github.com/mantonx/cinerelay/internal/modules/acquisitionmodule"
	_ "github.com/mantonx/cinerelay/internal/modules/proxymodule"
)

const shutdownTimeout = 10 * time.Second

// Server owns every long-lived component of the process
type Server struct {
	config   *config.ConfigManager
	registry *modulemanager.ModuleRegistry
	bus      events.EventBus
	db       *gorm.DB
	watcher  *config.FileWatcher
	router   *gin.Engine
	http     *http.Server
	logger   hclog.Logger
	started  time.Time

	stopOnce sync.Once
	stopErr  error
}

// New builds the server from cm using the global module registry
func New(cm *config.ConfigManager) (*Server, error) {
	return NewWithRegistry(cm, modulemanager.Registry)
}

// NewWithRegistry builds the server with an explicit module registry
func NewWithRegistry(cm *config.ConfigManager, registry *modulemanager.ModuleRegistry) (*Server, error) {
	cfg := cm.GetConfig()
	log := logger.Init(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	s := &Server{
		config:   cm,
		registry: registry,
		logger:   log.Named("server"),
		started:  time.Now(),
	}

	if cfg.Database.Enabled {
		db, err := database.Open(cfg.Database, log.Named("database"))
		if err != nil {
			return nil, err
		}
		s.db = db
	}

	s.bus = events.NewEventBus(events.DefaultConfig(), log.Named("events"))
	if err := s.bus.Start(context.Background()); err != nil {
		s.closeDB()
		return nil, fmt.Errorf("failed to start event bus: %w", err)
	}
	events.SetGlobalEventBus(s.bus)

	env := &modulemanager.Environment{Config: cm, DB: s.db, Bus: s.bus, Logger: log}
	if err := registry.LoadAll(env); err != nil {
		s.bus.Stop(context.Background())
		s.closeDB()
		return nil, fmt.Errorf("failed to load modules: %w", err)
	}

	cm.AddWatcher(s.onConfigReload)

	s.router = s.setupRouter(cfg)
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s, nil
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts everything down
func (s *Server) Run(ctx context.Context) error {
	if s.config.Path() != "" {
		s.watcher = config.NewFileWatcher(s.config, s.logger.Named("config"))
		if err := s.watcher.Start(ctx); err != nil {
			s.logger.Warn("configuration hot reload disabled", "error", err)
			s.watcher = nil
		}
	}

	s.publish(events.NewEvent(events.EventSystemStarted, "system", "", "server started"))

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.Shutdown(context.Background())
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops the HTTP server, the modules, the bus and the database, in
// that order. Later calls return the first result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { s.stopErr = s.shutdown(ctx) })
	return s.stopErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	var errs []error

	if s.watcher != nil {
		s.watcher.Stop()
	}
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := s.registry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("modules: %w", err))
	}
	s.publish(events.NewEvent(events.EventSystemStopped, "system", "", "server stopped"))
	if err := s.bus.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("event bus: %w", err))
	}
	if err := s.closeDB(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) onConfigReload(old, next *config.Config) {
	if old.Logging != next.Logging {
		logger.Init(logger.Options{Level: next.Logging.Level, Format: next.Logging.Format})
	}
	s.logger.Info("configuration reloaded")
	s.publish(events.NewEvent(events.EventConfigReload, "system", "", "configuration reloaded"))
}

func (s *Server) publish(evt events.Event) {
	if err := s.bus.Publish(evt); err != nil {
		s.logger.Debug("event not published", "type", evt.Type, "error", err)
	}
}

func (s *Server) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := database.Close(s.db)
	s.db = nil
	return err
}
