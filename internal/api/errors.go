// Package api provides error handling utilities for HTTP APIs
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/cinerelay/internal/logger"
	acqerrors "github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/errors"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Error   ErrorDetails `json:"error"`
	Success bool         `json:"success"`
}

// ErrorDetails contains detailed error information
type ErrorDetails struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Reason    string                 `json:"reason,omitempty"`
	Retryable bool                   `json:"retryable"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// StatusForKind maps an acquisition failure kind onto an HTTP status
func StatusForKind(kind acqerrors.Kind) int {
	switch kind {
	case acqerrors.KindSessionExpired:
		return http.StatusUnauthorized
	case acqerrors.KindSubmissionRejected, acqerrors.KindNoPlayableFile, acqerrors.KindNoStreamURL:
		return http.StatusUnprocessableEntity
	case acqerrors.KindPollTimeout:
		return http.StatusGatewayTimeout
	case acqerrors.KindTransport:
		return http.StatusBadGateway
	case acqerrors.KindBusy:
		return http.StatusConflict
	case acqerrors.KindInvalidInput:
		return http.StatusBadRequest
	case acqerrors.KindCancelled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// RespondWithError sends a structured error response
func RespondWithError(c *gin.Context, err error) {
	requestID := c.GetString("request_id")
	if requestID == "" {
		requestID = c.GetHeader("X-Request-ID")
	}

	var acqErr *acqerrors.AcquisitionError
	if errors.As(err, &acqErr) {
		status := StatusForKind(acqErr.Kind)
		response := ErrorResponse{
			Success: false,
			Error: ErrorDetails{
				Code:      string(acqErr.Kind),
				Message:   acqErr.Error(),
				Reason:    acqErr.Reason(),
				Retryable: acqErr.Retryable(),
				Context:   acqErr.Details,
				RequestID: requestID,
			},
		}

		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "kind", acqErr.Kind, "op", acqErr.Op, "error", acqErr.Err, "request_id", requestID)
		} else {
			logger.Warn("request failed", "kind", acqErr.Kind, "op", acqErr.Op, "error", acqErr.Err, "request_id", requestID)
		}

		c.JSON(status, response)
		return
	}

	logger.Error("unstructured error", "error", err, "request_id", requestID)
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Success: false,
		Error: ErrorDetails{
			Code:      string(acqerrors.KindInternal),
			Message:   err.Error(),
			RequestID: requestID,
		},
	})
}

// RespondWithValidationError sends a validation error response
func RespondWithValidationError(c *gin.Context, message string) {
	RespondWithError(c, acqerrors.InvalidInput("validate", errors.New(message)))
}

// RespondWithNotFound sends a not found error response
func RespondWithNotFound(c *gin.Context, resource string, id string) {
	c.JSON(http.StatusNotFound, ErrorResponse{
		Success: false,
		Error: ErrorDetails{
			Code:      "not_found",
			Message:   fmt.Sprintf("%s %q not found", resource, id),
			RequestID: c.GetString("request_id"),
		},
	})
}

// ErrorMiddleware is a middleware that recovers from panics and handles errors
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("%v", r)
				}

				logger.Error("panic recovered",
					"error", err,
					"request_path", c.Request.URL.Path,
					"request_method", c.Request.Method,
				)

				RespondWithError(c, fmt.Errorf("panic recovered: %w", err))
				c.Abort()
			}
		}()

		c.Next()
	}
}
