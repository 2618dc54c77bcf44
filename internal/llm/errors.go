package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sashabaranov/go-openai"
)

var (
	// ErrNotConfigured means no enabled route exists at all
	ErrNotConfigured = errors.New("llm: no usable route configured")

	// ErrRouteNotConfigured marks a route skipped because it is incomplete
	ErrRouteNotConfigured = errors.New("llm: route not configured")

	// ErrTransientProvider matches failures that were retried and may succeed later
	ErrTransientProvider = errors.New("llm: transient provider error")

	// ErrRoutesExhausted is returned once every route of a stage has failed
	ErrRoutesExhausted = errors.New("llm: all routes exhausted")

	// ErrEmptyContent means the provider answered without any text
	ErrEmptyContent = errors.New("llm: empty content")

	// ErrInvalidJSON means no JSON payload could be parsed from the text
	ErrInvalidJSON = errors.New("llm: invalid JSON in response")
)

// retryableStatus lists HTTP statuses worth a local retry
var retryableStatus = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// ExhaustedError is the terminal error of a Generate call
type ExhaustedError struct {
	Stage  Stage
	Routes int    // Routes that were tried or skipped
	Reason string // Fallback reason of the last failure
	Last   error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("llm stage %s: all %d route(s) exhausted (%s): %v", e.Stage, e.Routes, e.Reason, e.Last)
}

// Unwrap exposes ErrRoutesExhausted, the last cause, and ErrTransientProvider
// when the last cause was transient
func (e *ExhaustedError) Unwrap() []error {
	errs := []error{ErrRoutesExhausted}
	if e.Last != nil {
		errs = append(errs, e.Last)
	}
	if isRetryable(e.Last) {
		errs = append(errs, ErrTransientProvider)
	}
	return errs
}

// statusCode extracts the HTTP status from provider errors, 0 if none
func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// isTimeout reports read timeouts and per-attempt deadlines
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isRetryable returns true for failures worth another local attempt
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if retryableStatus[statusCode(err)] {
		return true
	}
	return isTimeout(err) || errors.Is(err, ErrEmptyContent) || errors.Is(err, ErrInvalidJSON)
}

// fallbackReason labels why a route was abandoned
func fallbackReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRouteNotConfigured):
		return "route_not_configured"
	case isTimeout(err):
		return "read_timeout"
	case statusCode(err) != 0:
		return fmt.Sprintf("http_%d", statusCode(err))
	case errors.Is(err, ErrInvalidJSON):
		return "invalid_json"
	case errors.Is(err, ErrEmptyContent):
		return "invalid_response"
	default:
		return "transport_error"
	}
}
