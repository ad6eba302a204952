package core

import (
	"time"

	acqerrors "github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/errors"
)

// State of an acquisition run
type State string

const (
	StateIdle       State = "idle"
	StateEvicting   State = "evicting"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateLocating   State = "locating"
	StateResolving  State = "resolving"
	StateResolved   State = "resolved"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	return s == StateResolved || s == StateFailed || s == StateCancelled
}

// Media types of a stream resolution
const (
	MediaTypeHLS         = "hls"
	MediaTypeProgressive = "progressive"
)

// Submission is an immutable request to acquire one title
type Submission struct {
	Source string `json:"source"` // info hash or magnet URI
	Title  string `json:"title"`
}

// StreamResolution is the playable result of a run
type StreamResolution struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
	Container string `json:"container"`
	FileID    string `json:"file_id"`
	FileName  string `json:"file_name"`
}

// Update is emitted on every transition and poll
type Update struct {
	State    State
	Attempt  int
	Progress float64
	Message  string
	Err      *acqerrors.AcquisitionError
	Result   *StreamResolution
	At       time.Time
}

// Observer receives updates synchronously from the run goroutine
type Observer func(Update)
