package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBus(t *testing.T) EventBus {
	t.Helper()
	bus := NewEventBus(DefaultConfig(), hclog.NewNullLogger())
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { bus.Stop(context.Background()) })
	return bus
}

func TestEventBus_DeliversMatchingEvents(t *testing.T) {
	bus := startBus(t)

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{})

	_, err := bus.Subscribe(EventFilter{Targets: []string{"run-1"}}, func(e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		if e.Type.Terminal() {
			close(done)
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(NewEvent(EventRunProgress, "module:acquisition", "run-2", "other run")))
	require.NoError(t, bus.Publish(NewEvent(EventRunProgress, "module:acquisition", "run-1", "").WithData("progress", 55.0)))
	require.NoError(t, bus.Publish(NewEvent(EventRunResolved, "module:acquisition", "run-1", "")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal event not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, EventRunProgress, got[0].Type)
	assert.Equal(t, 55.0, got[0].Data["progress"])
	assert.Equal(t, EventRunResolved, got[1].Type)
}

func TestEventBus_UnsubscribeAndRecent(t *testing.T) {
	bus := startBus(t)

	calls := make(chan Event, 10)
	sub, err := bus.Subscribe(EventFilter{Types: []EventType{EventSessionExpired}}, func(e Event) error {
		calls <- e
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Unsubscribe(sub.ID))
	assert.Error(t, bus.Unsubscribe(sub.ID))

	require.NoError(t, bus.Publish(NewEvent(EventSessionExpired, "module:acquisition", "", "401")))

	assert.Eventually(t, func() bool {
		return len(bus.Recent(EventFilter{Types: []EventType{EventSessionExpired}}, 0)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, calls)
}

func TestEventBus_RejectsWhenStopped(t *testing.T) {
	bus := NewEventBus(DefaultConfig(), nil)
	assert.Error(t, bus.Publish(NewEvent(EventSystemStarted, "system", "", "")))

	require.NoError(t, bus.Start(context.Background()))
	assert.Error(t, bus.Start(context.Background()))
	require.NoError(t, bus.Stop(context.Background()))
	assert.Error(t, bus.Publish(NewEvent(EventSystemStopped, "system", "", "")))
}

func TestMatchesFilter(t *testing.T) {
	e := NewEvent(EventRunFailed, "module:acquisition", "abc", "timeout")

	assert.True(t, MatchesFilter(e, EventFilter{}))
	assert.True(t, MatchesFilter(e, EventFilter{Types: []EventType{EventRunFailed}, Targets: []string{"abc"}}))
	assert.False(t, MatchesFilter(e, EventFilter{Types: []EventType{EventRunResolved}}))
	assert.False(t, MatchesFilter(e, EventFilter{Targets: []string{"xyz"}}))
	assert.True(t, EventRunCancelled.Terminal())
	assert.False(t, EventRunProgress.Terminal())
}
