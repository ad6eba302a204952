package modulemanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

// ModuleRegistry manages module registration and initialization
type ModuleRegistry struct {
	mu              sync.RWMutex
	modules         map[string]Module
	disabledModules map[string]bool
	order           []Module // initialized modules, dependencies first
	initialized     bool
	logger          hclog.Logger
}

// Registry is the global module registry modules add themselves to from init()
var Registry = NewRegistry()

// NewRegistry creates an empty registry
func NewRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		modules:         make(map[string]Module),
		disabledModules: make(map[string]bool),
		logger:          hclog.NewNullLogger(),
	}
}

// Register adds a module to the global registry
func Register(m Module) {
	Registry.Register(m)
}

// Register adds a module to the registry
func (r *ModuleRegistry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		r.logger.Warn("module registered after initialization", "module", m.ID())
	}
	r.modules[m.ID()] = m
}

// DisableModule marks a non-core module as disabled
func (r *ModuleRegistry) DisableModule(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.modules[id]
	if !ok {
		return fmt.Errorf("module %s not registered", id)
	}
	if m.Core() {
		return fmt.Errorf("cannot disable core module: %s", id)
	}
	r.disabledModules[id] = true
	return nil
}

// LoadAll migrates and initializes every enabled module in dependency order
func (r *ModuleRegistry) LoadAll(env *Environment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return nil
	}
	if env.Logger != nil {
		r.logger = env.Logger.Named("modules")
	}

	enabled := make(map[string]Module, len(r.modules))
	for id, m := range r.modules {
		if r.disabledModules[id] {
			r.logger.Warn("skipping disabled module", "module", id)
			continue
		}
		enabled[id] = m
	}

	graph, err := buildDependencyGraph(enabled)
	if err != nil {
		return fmt.Errorf("failed to build dependency graph: %w", err)
	}
	order := graph.initializationOrder()

	r.logger.Info("loading modules", "count", len(order))
	for i, m := range order {
		if env.DB != nil {
			if err := m.Migrate(env.DB); err != nil {
				return fmt.Errorf("failed to migrate %s: %w", m.Name(), err)
			}
		}
		if err := m.Init(env); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", m.Name(), err)
		}
		r.order = append(r.order, m)
		r.logger.Info("module loaded", "module", m.ID(), "position", i+1)
	}

	r.initialized = true
	return nil
}

// RegisterRoutes registers routes for all loaded modules that implement RouteRegistrar
func (r *ModuleRegistry) RegisterRoutes(router gin.IRouter) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.order {
		if rr, ok := m.(RouteRegistrar); ok {
			r.logger.Debug("registering routes", "module", m.ID())
			rr.RegisterRoutes(router)
		}
	}
}

// Shutdown stops loaded modules in reverse initialization order
func (r *ModuleRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		m := r.order[i]
		if s, ok := m.(Shutdowner); ok {
			if err := s.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", m.ID(), err))
			}
		}
	}
	r.order = nil
	r.initialized = false
	return errors.Join(errs...)
}

// Health collects the health of every loaded module
func (r *ModuleRegistry) Health(ctx context.Context) map[string]HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]HealthStatus, len(r.order))
	for _, m := range r.order {
		if hc, ok := m.(HealthChecker); ok {
			out[m.ID()] = hc.HealthCheck(ctx)
			continue
		}
		out[m.ID()] = HealthStatus{Status: HealthStateUnknown, LastChecked: time.Now()}
	}
	return out
}

// GetModule returns a module by ID
func (r *ModuleRegistry) GetModule(id string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	return m, ok
}

// Loaded returns the initialized modules in initialization order
func (r *ModuleRegistry) Loaded() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Module(nil), r.order...)
}
