package seedr

import (
	"errors"
	"fmt"

	acqerrors "github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/errors"
)

var (
	// ErrSessionExpired is returned on 401/403 or when the store holds no usable credential
	ErrSessionExpired = acqerrors.ErrSessionExpired
	// ErrTransport wraps network failures and proxy-fabricated 502s
	ErrTransport = errors.New("transport failure")
	// ErrDecode wraps bodies that are not the JSON the call expects
	ErrDecode = errors.New("undecodable response")
	// ErrLoginFailed is returned when the backend does not hand out a session
	ErrLoginFailed = errors.New("login failed")
)

// StatusError is a non-2xx answer that is neither auth nor transport related
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, body)
}
