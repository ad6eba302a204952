// Package errors provides the failure taxonomy of the acquisition pipeline.
// Every failure that leaves the orchestrator is an *AcquisitionError whose Kind
// tells the caller how to react (retry, re-authenticate, or report).
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an acquisition failure
type Kind string

const (
	// KindTransport covers network, DNS and timeout failures talking to the proxy or backend
	KindTransport Kind = "transport"
	// KindSessionExpired means the backend answered 401/403
	KindSessionExpired Kind = "session_expired"
	// KindSubmissionRejected means the backend accepted the call but refused the job
	KindSubmissionRejected Kind = "submission_rejected"
	// KindPollTimeout means the attempt or time budget ran out before a folder appeared
	KindPollTimeout Kind = "poll_timeout"
	// KindNoPlayableFile means the job finished but produced no video file
	KindNoPlayableFile Kind = "no_playable_file"
	// KindNoStreamURL means the backend resolved the file without a URL
	KindNoStreamURL Kind = "no_stream_url"
	// KindCancelled means the caller stopped the run
	KindCancelled Kind = "cancelled"
	// KindInvalidInput means the request could not be turned into a job
	KindInvalidInput Kind = "invalid_input"
	// KindBusy means another run already owns the session
	KindBusy Kind = "busy"
	// KindInternal is everything else
	KindInternal Kind = "internal"
)

// Sentinel errors for common scenarios
var (
	ErrSessionExpired     = errors.New("session expired")
	ErrSubmissionRejected = errors.New("submission rejected")
	ErrPollTimeout        = errors.New("download is taking too long")
	ErrNoPlayableFile     = errors.New("no video file")
	ErrNoStreamURL        = errors.New("no stream url")
	ErrCancelled          = errors.New("acquisition cancelled")
	ErrRunInProgress      = errors.New("an acquisition is already running for this session")
	ErrInvalidSource      = errors.New("invalid torrent hash or magnet uri")
	ErrRunNotFound        = errors.New("acquisition not found")
)

// AcquisitionError provides structured error information with context
type AcquisitionError struct {
	Kind    Kind
	Op      string // state or operation that failed, e.g. "polling", "submit_job"
	RunID   string
	Err     error
	Details map[string]interface{}
}

// New creates an AcquisitionError
func New(kind Kind, op string, err error) *AcquisitionError {
	return &AcquisitionError{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface
func (e *AcquisitionError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("%s error in %s [run=%s]: %v", e.Kind, e.Op, e.RunID, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// WithRun attaches a run id
func (e *AcquisitionError) WithRun(runID string) *AcquisitionError {
	e.RunID = runID
	return e
}

// WithDetail attaches a detail value
func (e *AcquisitionError) WithDetail(key string, value interface{}) *AcquisitionError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Reason is the short, user-facing failure reason
func (e *AcquisitionError) Reason() string {
	switch e.Kind {
	case KindPollTimeout:
		return "timeout"
	case KindNoPlayableFile:
		return "no video file"
	case KindNoStreamURL:
		return "no stream url"
	case KindSubmissionRejected:
		return "submission rejected"
	case KindSessionExpired:
		return "session expired"
	case KindCancelled:
		return "cancelled"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

// Retryable reports whether the caller may try the whole acquisition again
// without user intervention.
func (e *AcquisitionError) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindBusy
}

// GetKind extracts the Kind of err, KindInternal when err is not classified
func GetKind(err error) Kind {
	var ae *AcquisitionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind
func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// Helper constructors

func Transport(op string, err error) *AcquisitionError {
	return New(KindTransport, op, err)
}

func SessionExpired(op string, err error) *AcquisitionError {
	if err == nil {
		err = ErrSessionExpired
	}
	return New(KindSessionExpired, op, err)
}

func SubmissionRejected(op string, reason string) *AcquisitionError {
	e := New(KindSubmissionRejected, op, ErrSubmissionRejected)
	if reason != "" {
		e.WithDetail("reason", reason)
	}
	return e
}

func PollTimeout(op string, attempts int) *AcquisitionError {
	return New(KindPollTimeout, op, ErrPollTimeout).WithDetail("attempts", attempts)
}

func NoPlayableFile(op string, folder string) *AcquisitionError {
	return New(KindNoPlayableFile, op, ErrNoPlayableFile).WithDetail("folder", folder)
}

func NoStreamURL(op string, fileID string) *AcquisitionError {
	return New(KindNoStreamURL, op, ErrNoStreamURL).WithDetail("file_id", fileID)
}

func Cancelled(op string, cause error) *AcquisitionError {
	if cause == nil {
		cause = ErrCancelled
	}
	return New(KindCancelled, op, cause)
}

func InvalidInput(op string, err error) *AcquisitionError {
	return New(KindInvalidInput, op, err)
}

func Busy(op string) *AcquisitionError {
	return New(KindBusy, op, ErrRunInProgress)
}
