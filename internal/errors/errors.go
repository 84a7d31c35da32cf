package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

/**
 * Custom error types for the face redaction engine
 *
 * Every pipeline failure is a PipelineError carrying the stage it came
 * from. Ingress layers (HTTP, queue) turn it into the single error body
 * shape {"error": ..., "detalle": ...}.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Client errors
	ErrorValidation ErrorCode = "VALIDATION_FAILED"
	ErrorDecode     ErrorCode = "DECODE_FAILED"

	// Collaborator errors
	ErrorUpstream ErrorCode = "UPSTREAM_FAILED"

	// The caller went away before the request finished
	ErrorCanceled ErrorCode = "REQUEST_CANCELED"

	// Everything else
	ErrorInternal ErrorCode = "INTERNAL_ERROR"
)

// PipelineError represents a structured pipeline error
type PipelineError struct {
	Code      ErrorCode
	Message   string
	Stage     string
	RequestID string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

// ErrorResponse is the only error body the engine ever returns.
type ErrorResponse struct {
	Error   string `json:"error"`
	Detalle string `json:"detalle"`
}

func (e *PipelineError) Error() string {
	prefix := string(e.Code)
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s[%s]", e.Code, e.Stage)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// StatusCode maps the error code onto the HTTP status returned at ingress.
func (e *PipelineError) StatusCode() int {
	switch e.Code {
	case ErrorValidation, ErrorDecode:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Response builds the client-facing error body. Internal errors keep a
// generic summary; the cause is only exposed through detalle.
func (e *PipelineError) Response() ErrorResponse {
	detail := e.Message
	if e.Cause != nil {
		detail = e.Cause.Error()
	}
	return ErrorResponse{
		Error:   e.summary(),
		Detalle: detail,
	}
}

func (e *PipelineError) summary() string {
	switch e.Code {
	case ErrorUpstream:
		return fmt.Sprintf("Upstream %s stage failed", e.Stage)
	case ErrorCanceled:
		return "Request canceled"
	case ErrorInternal:
		return "Internal server error"
	default:
		return e.Message
	}
}

// WithRequestID tags the error with the request it aborted.
func (e *PipelineError) WithRequestID(requestID string) *PipelineError {
	e.RequestID = requestID
	return e
}

// Factory functions for common errors

func NewValidationError(message string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorValidation,
		Message:   message,
		Stage:     "ingress",
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewDecodeError(cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorDecode,
		Message:   "Payload could not be decoded as an image",
		Stage:     "decode",
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewUpstreamError(stage string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorUpstream,
		Message:   fmt.Sprintf("Collaborator call failed at stage: %s", stage),
		Stage:     stage,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"stage": stage,
		},
		Cause: cause,
	}
}

func NewUpstreamTimeoutError(stage string, timeout time.Duration, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorUpstream,
		Message:   fmt.Sprintf("Collaborator timed out after %v at stage: %s", timeout, stage),
		Stage:     stage,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"stage":            stage,
			"timeout_duration": timeout.String(),
		},
		Cause: cause,
	}
}

// NewCanceledError reports a request abandoned by its caller mid-stage.
// cause should be the context error so errors.Is(err, context.Canceled) holds.
func NewCanceledError(stage string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorCanceled,
		Message:   fmt.Sprintf("Request canceled at stage: %s", stage),
		Stage:     stage,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewInternalError(stage string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorInternal,
		Message:   fmt.Sprintf("Unexpected failure at stage: %s", stage),
		Stage:     stage,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// AsPipelineError returns err as a *PipelineError, wrapping anything
// outside the taxonomy as an internal error.
func AsPipelineError(err error) *PipelineError {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe
	}
	return NewInternalError("unknown", err)
}

// IsClientError reports whether err is user-correctable (validation or decode).
func IsClientError(err error) bool {
	var pe *PipelineError
	if !stderrors.As(err, &pe) {
		return false
	}
	return pe.Code == ErrorValidation || pe.Code == ErrorDecode
}

// ToMap converts error to map for structured logs and queue results
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code":    string(e.Code),
		"error_message": e.Message,
		"stage":         e.Stage,
		"timestamp":     e.Timestamp,
	}

	if e.RequestID != "" {
		result["request_id"] = e.RequestID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
