package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/cinerelay/internal/clock"
	"github.com/mantonx/cinerelay/internal/events"
	"github.com/mantonx/cinerelay/internal/metrics"
	acqerrors "github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/errors"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/models"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/seedr"
)

const eventSource = "module:acquisition"

// AccountFactory returns an account client bound to store
type AccountFactory func(store seedr.SessionStore) Account

// HistoryStore persists finished runs
type HistoryStore interface {
	Save(ctx context.Context, record *models.AcquisitionRecord) error
}

// ManagerConfig wires a Manager
type ManagerConfig struct {
	Accounts AccountFactory
	Options  func() Options // read at the start of every run
	Clock    clock.Clock
	Bus      events.EventBus // optional
	History  HistoryStore    // optional
	Logger   hclog.Logger
}

// Manager owns the runs of the process and enforces one in-flight run per session
type Manager struct {
	cfg    ManagerConfig
	logger hclog.Logger

	mu     sync.RWMutex
	runs   map[string]*Run
	active map[string]string // session key -> run id

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Options == nil {
		cfg.Options = DefaultOptions
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger,
		runs:   make(map[string]*Run),
		active: make(map[string]string),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches a run for the session identified by sessionKey. A second
// run for the same session is rejected while the first is in flight.
func (m *Manager) Start(sessionKey string, store seedr.SessionStore, sub Submission) (*Run, error) {
	if sessionKey == "" || store == nil {
		return nil, acqerrors.SessionExpired("start", nil)
	}

	m.mu.Lock()
	if id, ok := m.active[sessionKey]; ok {
		m.mu.Unlock()
		return nil, acqerrors.Busy("start").WithRun(id)
	}
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return nil, acqerrors.Cancelled("start", errors.New("manager is shutting down"))
	}

	ctx, cancel := context.WithCancelCause(m.ctx)
	now := m.cfg.Clock.Now()
	run := &Run{
		id:         uuid.NewString(),
		sessionKey: sessionKey,
		sub:        sub,
		state:      StateIdle,
		startedAt:  now,
		updatedAt:  now,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.runs[run.id] = run
	m.active[sessionKey] = run.id
	m.mu.Unlock()

	logger := m.logger.With("run_id", run.id)
	orch := NewOrchestrator(m.cfg.Accounts(store), store, m.cfg.Options(), m.cfg.Clock, logger).
		WithObserver(func(u Update) {
			run.apply(u)
			m.publishUpdate(run, u)
		})

	metrics.ActiveRuns.Inc()
	m.publish(events.NewEvent(events.EventRunStarted, eventSource, run.id, sub.Title).WithData("title", sub.Title))
	logger.Info("acquisition started", "title", sub.Title)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer metrics.ActiveRuns.Dec()

		res, err := orch.Run(ctx, sub)
		cancel(nil)
		m.finish(run, res, err)
	}()

	return run, nil
}

// Get returns a run by id
func (m *Manager) Get(id string) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	return run, ok
}

// Active returns the in-flight run of a session
func (m *Manager) Active(sessionKey string) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.active[sessionKey]
	if !ok {
		return nil, false
	}
	return m.runs[id], true
}

// Cancel stops a run. Cancelling a finished run is a no-op.
func (m *Manager) Cancel(id string) error {
	run, ok := m.Get(id)
	if !ok {
		return acqerrors.New(acqerrors.KindInvalidInput, "cancel", acqerrors.ErrRunNotFound).WithRun(id)
	}
	run.cancel(acqerrors.Cancelled("cancel", acqerrors.ErrCancelled))
	return nil
}

// Runs returns snapshots of every run the manager remembers, newest first
func (m *Manager) Runs() []RunSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RunSnapshot, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run.Snapshot())
	}
	sortSnapshots(out)
	return out
}

// Shutdown cancels every run and waits for them to finish
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) finish(run *Run, res *StreamResolution, err error) {
	var ae *acqerrors.AcquisitionError
	if err != nil && !errors.As(err, &ae) {
		ae = acqerrors.New(acqerrors.KindInternal, "run", err)
	}
	if ae != nil {
		ae.WithRun(run.id)
	}
	run.complete(res, ae, m.cfg.Clock.Now())

	m.mu.Lock()
	if m.active[run.sessionKey] == run.id {
		delete(m.active, run.sessionKey)
	}
	m.mu.Unlock()

	snap := run.Snapshot()
	m.record(snap)

	var evt events.Event
	switch snap.State {
	case StateResolved:
		evt = events.NewEvent(events.EventRunResolved, eventSource, run.id, res.URL).WithData("result", res)
	case StateCancelled:
		evt = events.NewEvent(events.EventRunCancelled, eventSource, run.id, snap.Failure.Reason)
	default:
		evt = events.NewEvent(events.EventRunFailed, eventSource, run.id, snap.Failure.Reason).
			WithData("kind", snap.Failure.Kind)
		if ae != nil && ae.Kind == acqerrors.KindSessionExpired {
			m.publish(events.NewEvent(events.EventSessionExpired, eventSource, run.id, "session expired"))
		}
	}
	m.publish(evt.WithData("snapshot", snap))
}

func (m *Manager) record(snap RunSnapshot) {
	if m.cfg.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.cfg.History.Save(ctx, snap.Record()); err != nil {
		m.logger.Error("failed to persist acquisition", "run_id", snap.ID, "error", err)
	}
}

func (m *Manager) publishUpdate(run *Run, u Update) {
	if u.State.Terminal() {
		return
	}
	eventType := events.EventRunState
	if u.State == StatePolling && u.Attempt > 0 {
		eventType = events.EventRunProgress
	}
	m.publish(events.NewEvent(eventType, eventSource, run.id, u.Message).
		WithData("state", u.State).
		WithData("attempt", u.Attempt).
		WithData("progress", u.Progress))
}

func (m *Manager) publish(evt events.Event) {
	if m.cfg.Bus == nil {
		return
	}
	if err := m.cfg.Bus.Publish(evt); err != nil {
		m.logger.Debug("event not published", "type", evt.Type, "error", err)
	}
}
