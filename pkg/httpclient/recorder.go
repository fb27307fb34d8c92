package httpclient

import (
	"context"
	"time"
)

// CallRecord captures one outbound call attempt (primary or fallback).
// Records are immutable once handed to the recorder. Header and body maps
// must already be sanitized by the client before recording.
type CallRecord struct {
	CorrelationID string
	CallID        string
	Timestamp     time.Time

	Vendor   string
	Method   string
	URL      string
	Endpoint string

	RequestParams  map[string]string
	RequestHeaders map[string]string
	RequestBody    map[string]any

	StatusCode      int
	ResponseHeaders map[string]string
	ResponseBody    map[string]any

	DurationMs float64

	AccountID string
	JourneyID string

	ErrorMessage string
	CircuitOpen  bool
	FallbackUsed bool
}

// CallRecorder persists vendor-call records. Implementations must be
// non-blocking from the caller's perspective and must never surface
// persistence failures to the request path.
type CallRecorder interface {
	RecordCall(ctx context.Context, rec *CallRecord)
}

// NopRecorder discards all records. Used in tests and when no log store is
// configured.
type NopRecorder struct{}

// RecordCall implements CallRecorder.
func (NopRecorder) RecordCall(context.Context, *CallRecord) {}
