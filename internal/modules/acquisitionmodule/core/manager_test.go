package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/cinerelay/internal/clock"
	"github.com/mantonx/cinerelay/internal/events"
	acqerrors "github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/errors"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/models"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/seedr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryHistory struct {
	mu      sync.Mutex
	records []*models.AcquisitionRecord
}

func (h *memoryHistory) Save(_ context.Context, rec *models.AcquisitionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

func (h *memoryHistory) all() []*models.AcquisitionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*models.AcquisitionRecord(nil), h.records...)
}

func newTestManager(t *testing.T, account *fakeAccount, bus events.EventBus) (*Manager, *memoryHistory) {
	t.Helper()
	history := &memoryHistory{}
	m := NewManager(ManagerConfig{
		Accounts: func(seedr.SessionStore) Account { return account },
		Options:  testOptions,
		Clock:    clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Bus:      bus,
		History:  history,
		Logger:   hclog.NewNullLogger(),
	})
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, history
}

func waitRun(t *testing.T, run *Run) RunSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := run.Wait(ctx)
	require.NoError(t, err, "run did not finish")
	return snap
}

func TestManager_RunResolvesAndRecordsHistory(t *testing.T) {
	account := newFakeAccount()
	account.roots = []rootReply{listing(nil), listing(nil, folder("5", "Title.2020"))}
	account.folders["5"] = &seedr.Listing{Files: []seedr.Item{file("6", "title.mp4")}}
	account.streams["6"] = "https://cdn.example/title.mp4"

	bus := events.NewEventBus(events.DefaultConfig(), nil)
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { bus.Stop(context.Background()) })

	m, history := newTestManager(t, account, bus)
	run, err := m.Start("session-a", validStore(), Submission{Source: testHash, Title: "Title"})
	require.NoError(t, err)

	snap := waitRun(t, run)
	assert.Equal(t, StateResolved, snap.State)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "https://cdn.example/title.mp4", snap.Result.URL)
	assert.Nil(t, snap.Failure)
	assert.NotNil(t, snap.FinishedAt)

	_, active := m.Active("session-a")
	assert.False(t, active)

	recs := history.all()
	require.Len(t, recs, 1)
	assert.Equal(t, run.ID(), recs[0].ID)
	assert.Equal(t, "session-a", recs[0].SessionKey)
	assert.Equal(t, testHash, recs[0].SourceHash)
	assert.Equal(t, "resolved", recs[0].State)
	assert.Equal(t, "mp4", recs[0].Container)

	assert.Eventually(t, func() bool {
		return len(bus.Recent(events.EventFilter{Types: []events.EventType{events.EventRunResolved}, Targets: []string{run.ID()}}, 0)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, bus.Recent(events.EventFilter{Types: []events.EventType{events.EventRunStarted}}, 0))
}

func TestManager_OneRunPerSession(t *testing.T) {
	release := make(chan struct{})
	account := newFakeAccount()
	account.onSubmit = func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m, _ := newTestManager(t, account, nil)
	first, err := m.Start("session-a", validStore(), Submission{Source: testHash, Title: "Title"})
	require.NoError(t, err)

	_, err = m.Start("session-a", validStore(), Submission{Source: testHash, Title: "Other"})
	require.Error(t, err)
	assert.True(t, acqerrors.IsKind(err, acqerrors.KindBusy))

	other, err := m.Start("session-b", validStore(), Submission{Source: testHash, Title: "Title"})
	require.NoError(t, err)

	active, ok := m.Active("session-a")
	require.True(t, ok)
	assert.Equal(t, first.ID(), active.ID())

	require.NoError(t, m.Cancel(first.ID()))
	require.NoError(t, m.Cancel(other.ID()))
	close(release)

	snap := waitRun(t, first)
	assert.Equal(t, StateCancelled, snap.State)
	require.NotNil(t, snap.Failure)
	assert.Equal(t, acqerrors.KindCancelled, snap.Failure.Kind)
	waitRun(t, other)

	again, err := m.Start("session-a", validStore(), Submission{Source: testHash, Title: "Title"})
	require.NoError(t, err)
	m.Cancel(again.ID())
	waitRun(t, again)
	assert.Len(t, m.Runs(), 3)
}

func TestManager_CancelUnknownRun(t *testing.T) {
	m, _ := newTestManager(t, newFakeAccount(), nil)
	err := m.Cancel("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, acqerrors.ErrRunNotFound)
}

func TestManager_FailureSnapshot(t *testing.T) {
	account := newFakeAccount()
	account.submit = &seedr.SubmitResult{Accepted: false, Reason: "quota"}

	m, history := newTestManager(t, account, nil)
	run, err := m.Start("session-a", validStore(), Submission{Source: testHash, Title: "Title"})
	require.NoError(t, err)

	snap := waitRun(t, run)
	assert.Equal(t, StateFailed, snap.State)
	require.NotNil(t, snap.Failure)
	assert.Equal(t, acqerrors.KindSubmissionRejected, snap.Failure.Kind)
	assert.Equal(t, "submission rejected", snap.Failure.Reason)
	assert.False(t, snap.Failure.Retryable)

	recs := history.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "submission_rejected", recs[0].FailureKind)
}

func TestManager_ShutdownCancelsRuns(t *testing.T) {
	account := newFakeAccount()
	account.onSubmit = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	m, _ := newTestManager(t, account, nil)
	run, err := m.Start("session-a", validStore(), Submission{Source: testHash, Title: "Title"})
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, StateCancelled, run.Snapshot().State)

	_, err = m.Start("session-b", validStore(), Submission{Source: testHash, Title: "Title"})
	assert.True(t, acqerrors.IsKind(err, acqerrors.KindCancelled))
}
