package log

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// contextKey is a private key type for storing the RequestContext.
type contextKey string

const requestContextKey contextKey = "stencil_request_context"

// RequestContext carries per-request trace information. It is created once
// by the inbound logging middleware and travels with the request context so
// every log line and outbound call can be stitched back together by
// correlation ID.
type RequestContext struct {
	// CorrelationID links the inbound request and all of its downstream
	// vendor calls. Taken from the inbound correlation header when present,
	// otherwise generated.
	CorrelationID string
	// RequestID is a short per-request ID used in console log lines.
	RequestID string
	// AccountID is an optional caller-supplied account identifier.
	AccountID string
	// JourneyID is an optional caller-supplied partner journey identifier.
	JourneyID string
	// UserID is set by the auth middleware once the caller is resolved.
	UserID string
	// StatusCode is declared by handlers that reply with a non-200 success
	// status. The transport writes the reply after the middleware chain has
	// finished, so the logging middleware cannot observe the written status
	// and reads this instead.
	StatusCode int
	// StartTime marks the beginning of request processing.
	StartTime time.Time
}

var (
	randSource = rand.NewSource(time.Now().UnixNano())
	randMutex  sync.Mutex
	// base36 charset (lowercase letters + digits)
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID generates a 10-character random request ID.
// Format: lowercase letters and digits, e.g. mgrn0zfqda.
// Cheaper than a UUID for log-line readability.
func GenerateRequestID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// GenerateCorrelationID generates a new correlation ID for requests that
// arrive without one.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithRequestContext injects a RequestContext into ctx. Called by the
// logging middleware at the start of every inbound request.
func WithRequestContext(ctx context.Context, correlationID, accountID, journeyID string) context.Context {
	if correlationID == "" {
		correlationID = GenerateCorrelationID()
	}
	reqCtx := &RequestContext{
		CorrelationID: correlationID,
		RequestID:     GenerateRequestID(),
		AccountID:     accountID,
		JourneyID:     journeyID,
		StartTime:     time.Now(),
	}
	return context.WithValue(ctx, requestContextKey, reqCtx)
}

// GetRequestContext extracts the RequestContext from ctx. Returns an empty
// context (never nil) when none was injected, so callers can skip nil checks.
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return &RequestContext{}
	}
	if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		return reqCtx
	}
	return &RequestContext{}
}

// GetCorrelationID extracts the correlation ID from ctx, or "" when the
// request carries no RequestContext.
func GetCorrelationID(ctx context.Context) string {
	return GetRequestContext(ctx).CorrelationID
}

// GetRequestID extracts the short request ID from ctx.
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// SetUserID records the authenticated user on the request context.
// The auth middleware calls this after credential validation.
func SetUserID(ctx context.Context, userID string) {
	if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		reqCtx.UserID = userID
	}
}

// SetStatusCode records the success status a handler is about to reply
// with. Only needed for non-200 replies.
func SetStatusCode(ctx context.Context, status int) {
	if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		reqCtx.StatusCode = status
	}
}

// GetStatusCode returns the status recorded by SetStatusCode, or 0 when the
// handler declared none.
func GetStatusCode(ctx context.Context) int {
	return GetRequestContext(ctx).StatusCode
}

// GetElapsedTime returns milliseconds elapsed since request start.
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
