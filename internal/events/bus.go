package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// EventBus defines the interface for the event bus system
type EventBus interface {
	// Publish enqueues an event; it fails instead of blocking when the buffer is full
	Publish(event Event) error

	// Subscribe registers handler for events matching filter
	Subscribe(filter EventFilter, handler EventHandler) (*Subscription, error)

	// Unsubscribe removes a subscription
	Unsubscribe(subscriptionID string) error

	// Recent returns the most recent events matching filter, oldest first
	Recent(filter EventFilter, limit int) []Event

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Config represents configuration for the event bus
type Config struct {
	BufferSize   int
	RecentEvents int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		RecentEvents: 200,
	}
}

type eventBus struct {
	config Config
	logger hclog.Logger

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	eventChannel  chan Event
	running       bool
	stopCh        chan struct{}
	wg            sync.WaitGroup

	recentEvents []Event
}

// NewEventBus creates a new event bus instance
func NewEventBus(config Config, logger hclog.Logger) EventBus {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	return &eventBus{
		config:        config,
		logger:        logger,
		subscriptions: make(map[string]*Subscription),
		eventChannel:  make(chan Event, config.BufferSize),
		recentEvents:  make([]Event, 0, config.RecentEvents),
		stopCh:        make(chan struct{}),
	}
}

// Start starts the event bus
func (eb *eventBus) Start(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.running {
		return fmt.Errorf("event bus is already running")
	}

	eb.running = true
	eb.stopCh = make(chan struct{})

	eb.wg.Add(1)
	go eb.processEvents(ctx)

	eb.logger.Debug("event bus started", "buffer_size", eb.config.BufferSize)
	return nil
}

// Stop drains pending events and stops the processor
func (eb *eventBus) Stop(ctx context.Context) error {
	eb.mu.Lock()
	if !eb.running {
		eb.mu.Unlock()
		return nil
	}
	eb.running = false
	close(eb.stopCh)
	eb.mu.Unlock()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Debug("event bus stopped")
		return nil
	case <-ctx.Done():
		eb.logger.Warn("event bus stop timed out")
		return ctx.Err()
	}
}

// Publish publishes an event to the event bus
func (eb *eventBus) Publish(event Event) error {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if !eb.running {
		return fmt.Errorf("event bus is not running")
	}
	if event.Type == "" {
		return fmt.Errorf("invalid event: type is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case eb.eventChannel <- event:
		return nil
	default:
		eb.logger.Warn("event channel full, dropping event", "event_type", event.Type, "target", event.Target)
		return fmt.Errorf("event channel full")
	}
}

// Subscribe subscribes to events matching the filter
func (eb *eventBus) Subscribe(filter EventFilter, handler EventHandler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub := &Subscription{
		ID:      "sub-" + uuid.NewString(),
		Filter:  filter,
		Handler: handler,
		Created: time.Now(),
	}
	eb.subscriptions[sub.ID] = sub
	return sub, nil
}

// Unsubscribe removes a subscription
func (eb *eventBus) Unsubscribe(subscriptionID string) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if _, exists := eb.subscriptions[subscriptionID]; !exists {
		return fmt.Errorf("subscription not found: %s", subscriptionID)
	}
	delete(eb.subscriptions, subscriptionID)
	return nil
}

// Recent returns buffered events matching filter
func (eb *eventBus) Recent(filter EventFilter, limit int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var out []Event
	for _, event := range eb.recentEvents {
		if MatchesFilter(event, filter) {
			out = append(out, event)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (eb *eventBus) processEvents(ctx context.Context) {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.eventChannel:
			eb.handleEvent(event)
		case <-eb.stopCh:
			eb.drain()
			return
		case <-ctx.Done():
			return
		}
	}
}

func (eb *eventBus) drain() {
	for {
		select {
		case event := <-eb.eventChannel:
			eb.handleEvent(event)
		default:
			return
		}
	}
}

func (eb *eventBus) handleEvent(event Event) {
	eb.mu.Lock()
	if eb.config.RecentEvents > 0 {
		eb.recentEvents = append(eb.recentEvents, event)
		if len(eb.recentEvents) > eb.config.RecentEvents {
			eb.recentEvents = eb.recentEvents[1:]
		}
	}

	var matching []*Subscription
	for _, sub := range eb.subscriptions {
		if MatchesFilter(event, sub.Filter) {
			matching = append(matching, sub)
		}
	}
	eb.mu.Unlock()

	for _, sub := range matching {
		eb.notifySubscriber(sub, event)
	}
}

func (eb *eventBus) notifySubscriber(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("panic in event handler", "subscription_id", sub.ID, "error", r, "event_id", event.ID)
		}
	}()

	if err := sub.Handler(event); err != nil {
		eb.logger.Error("event handler error", "subscription_id", sub.ID, "error", err, "event_id", event.ID)
		return
	}

	eb.mu.Lock()
	sub.TriggerCount++
	eb.mu.Unlock()
}
