// Package events provides the in-process event bus used to fan acquisition
// progress out to websocket clients and other listeners.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	// Acquisition lifecycle
	EventRunStarted   EventType = "acquisition.started"
	EventRunState     EventType = "acquisition.state"
	EventRunProgress  EventType = "acquisition.progress"
	EventRunResolved  EventType = "acquisition.resolved"
	EventRunFailed    EventType = "acquisition.failed"
	EventRunCancelled EventType = "acquisition.cancelled"

	// Session
	EventSessionExpired EventType = "session.expired"

	// System
	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"
	EventConfigReload  EventType = "config.reloaded"
)

// Terminal reports whether no further events follow t for the same target
func (t EventType) Terminal() bool {
	switch t {
	case EventRunResolved, EventRunFailed, EventRunCancelled:
		return true
	}
	return false
}

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // module:acquisition, system
	Target    string                 `json:"target"` // run id when applicable
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler represents a function that handles events
type EventHandler func(event Event) error

// EventFilter selects events for a subscription. Empty fields match anything.
type EventFilter struct {
	Types   []EventType `json:"types,omitempty"`
	Targets []string    `json:"targets,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID           string       `json:"id"`
	Filter       EventFilter  `json:"filter"`
	Handler      EventHandler `json:"-"`
	Created      time.Time    `json:"created"`
	TriggerCount int64        `json:"trigger_count"`
}

// NewEvent creates a new event with default values
func NewEvent(eventType EventType, source, target, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Target:    target,
		Message:   message,
		Data:      make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// WithData adds a data value and returns the event
func (e Event) WithData(key string, value interface{}) Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// MatchesFilter checks if an event matches the given filter
func MatchesFilter(event Event, filter EventFilter) bool {
	if len(filter.Types) > 0 && !contains(filter.Types, event.Type) {
		return false
	}
	if len(filter.Targets) > 0 && !contains(filter.Targets, event.Target) {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
