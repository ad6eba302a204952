package core

import (
	"context"
	"sort"
	"sync"
	"time"

	acqerrors "github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/errors"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/models"
)

// Run is the live record of one orchestrator execution
type Run struct {
	mu         sync.RWMutex
	id         string
	sessionKey string
	sub        Submission
	state      State
	attempt    int
	progress   float64
	message    string
	failure    *acqerrors.AcquisitionError
	result     *StreamResolution
	startedAt  time.Time
	updatedAt  time.Time
	finishedAt time.Time

	cancel context.CancelCauseFunc
	done   chan struct{}
}

// FailureInfo is the client-facing description of a failed run
type FailureInfo struct {
	Kind      acqerrors.Kind `json:"kind"`
	Reason    string         `json:"reason"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
}

// RunSnapshot is an immutable copy of a Run
type RunSnapshot struct {
	ID         string            `json:"id"`
	SessionKey string            `json:"-"`
	Title      string            `json:"title"`
	Source     string            `json:"source"`
	State      State             `json:"state"`
	Attempt    int               `json:"attempt"`
	Progress   float64           `json:"progress"`
	Message    string            `json:"message,omitempty"`
	Failure    *FailureInfo      `json:"failure,omitempty"`
	Result     *StreamResolution `json:"result,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// ID returns the run id
func (r *Run) ID() string { return r.id }

// Done is closed when the run reaches a terminal state
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx is done
func (r *Run) Wait(ctx context.Context) (RunSnapshot, error) {
	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

// Snapshot copies the run state
func (r *Run) Snapshot() RunSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := RunSnapshot{
		ID:         r.id,
		SessionKey: r.sessionKey,
		Title:      r.sub.Title,
		Source:     r.sub.Source,
		State:      r.state,
		Attempt:    r.attempt,
		Progress:   r.progress,
		Message:    r.message,
		StartedAt:  r.startedAt,
		UpdatedAt:  r.updatedAt,
	}
	if r.failure != nil {
		snap.Failure = &FailureInfo{
			Kind:      r.failure.Kind,
			Reason:    r.failure.Reason(),
			Message:   r.failure.Error(),
			Retryable: r.failure.Retryable(),
		}
	}
	if r.result != nil {
		res := *r.result
		snap.Result = &res
	}
	if !r.finishedAt.IsZero() {
		finished := r.finishedAt
		snap.FinishedAt = &finished
	}
	return snap
}

func (r *Run) apply(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	r.state = u.State
	if u.Attempt > r.attempt {
		r.attempt = u.Attempt
	}
	if u.Progress > r.progress {
		r.progress = u.Progress
	}
	r.message = u.Message
	r.updatedAt = u.At
}

func (r *Run) complete(res *StreamResolution, failure *acqerrors.AcquisitionError, at time.Time) {
	r.mu.Lock()
	switch {
	case failure == nil:
		r.state = StateResolved
		r.result = res
		r.progress = 100
	case failure.Kind == acqerrors.KindCancelled:
		r.state = StateCancelled
		r.failure = failure
	default:
		r.state = StateFailed
		r.failure = failure
	}
	if failure != nil {
		r.message = failure.Reason()
	}
	r.updatedAt = at
	r.finishedAt = at
	r.mu.Unlock()

	close(r.done)
}

// Record converts a finished snapshot into its history row
func (s RunSnapshot) Record() *models.AcquisitionRecord {
	rec := &models.AcquisitionRecord{
		ID:         s.ID,
		SessionKey: s.SessionKey,
		Title:      s.Title,
		State:      string(s.State),
		Attempts:   s.Attempt,
		StartedAt:  s.StartedAt,
		FinishedAt: s.UpdatedAt,
	}
	if _, hash, err := BuildMagnet(s.Source, s.Title, nil); err == nil {
		rec.SourceHash = hash
	}
	if s.FinishedAt != nil {
		rec.FinishedAt = *s.FinishedAt
	}
	if s.Failure != nil {
		rec.FailureKind = string(s.Failure.Kind)
		rec.FailureReason = s.Failure.Reason
	}
	if s.Result != nil {
		rec.StreamURL = s.Result.URL
		rec.MediaType = s.Result.MediaType
		rec.Container = s.Result.Container
		rec.FileName = s.Result.FileName
	}
	return rec
}

func sortSnapshots(snaps []RunSnapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].StartedAt.After(snaps[j].StartedAt)
	})
}
