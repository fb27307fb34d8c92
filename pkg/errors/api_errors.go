package errors

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned when a destination's circuit breaker rejects a
// call before any network attempt is made.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ExternalAPIError is the typed failure for outbound vendor calls. It carries
// the vendor name, the upstream status code when one was received, and
// whether a fallback target was attempted, so transport layers can surface
// 502-class errors with vendor context.
type ExternalAPIError struct {
	// Vendor is the logical upstream name, e.g. "weather-api" or "razorpay".
	Vendor string
	// StatusCode is the upstream HTTP status, 0 when the call never produced one.
	StatusCode int
	// FallbackAttempted reports whether the fallback target was tried.
	FallbackAttempted bool
	// CircuitOpen reports whether the call was rejected by an open circuit.
	CircuitOpen bool
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	switch {
	case e.CircuitOpen:
		return fmt.Sprintf("external API %s: circuit open: %v", e.Vendor, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("external API %s: status %d: %v", e.Vendor, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("external API %s: %v", e.Vendor, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *ExternalAPIError) Unwrap() error {
	return e.Err
}

// IsCircuitOpenError reports whether err is a circuit-open rejection.
func IsCircuitOpenError(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}
	var apiErr *ExternalAPIError
	return errors.As(err, &apiErr) && apiErr.CircuitOpen
}

// AsExternalAPIError extracts an ExternalAPIError from err, if any.
func AsExternalAPIError(err error) (*ExternalAPIError, bool) {
	var apiErr *ExternalAPIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
