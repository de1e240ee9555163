package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for proxy operations.
var (
	// ErrInvalidTargetURL indicates that the upstream base URL is invalid.
	ErrInvalidTargetURL = errors.New("invalid target URL")

	// ErrMethodNotAllowed indicates a method outside the forwarded set.
	ErrMethodNotAllowed = errors.New("method not allowed")

	// ErrUpstreamUnavailable indicates that the upstream could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	errSchemeNotHTTP = errors.New("scheme must be http or https")
	errMissingHost   = errors.New("missing host")
)

// ForwardError represents a failed HTTP forward.
type ForwardError struct {
	Method string // Inbound method
	Path   string // Inbound path
	Target string // Outbound URL
	Cause  error  // Underlying error
}

// Error implements the error interface.
func (e *ForwardError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("forward %s %s -> %s: %v", e.Method, e.Path, e.Target, e.Cause)
	}
	return fmt.Sprintf("forward %s %s: %v", e.Method, e.Path, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ForwardError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ForwardError) Is(target error) bool {
	_, ok := target.(*ForwardError)
	return ok || errors.Is(e.Cause, target)
}

// NewForwardError creates a new ForwardError.
func NewForwardError(method, path, target string, cause error) *ForwardError {
	return &ForwardError{
		Method: method,
		Path:   path,
		Target: target,
		Cause:  cause,
	}
}

// NewInvalidTargetError creates an error for an unparsable upstream URL.
func NewInvalidTargetError(target string, cause error) error {
	return fmt.Errorf("%w %q: %v", ErrInvalidTargetURL, target, cause)
}

// errorResponse is the JSON envelope returned when a forward fails.
type errorResponse struct {
	Error string `json:"error"`
}

// WriteJSONError writes {"error": message} with the given status.
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	body, err := json.Marshal(errorResponse{Error: message})
	if err != nil {
		body = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
