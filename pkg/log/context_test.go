package log

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	assert.Len(t, id1, 10)
	assert.NotEqual(t, id1, id2)
	for _, ch := range id1 {
		assert.Contains(t, base36Chars, string(ch))
	}
}

func TestWithRequestContext_UsesGivenCorrelationID(t *testing.T) {
	ctx := WithRequestContext(context.Background(), "corr-from-header", "acct-1", "journey-1")

	reqCtx := GetRequestContext(ctx)
	assert.Equal(t, "corr-from-header", reqCtx.CorrelationID)
	assert.Equal(t, "acct-1", reqCtx.AccountID)
	assert.Equal(t, "journey-1", reqCtx.JourneyID)
	assert.NotEmpty(t, reqCtx.RequestID)
	assert.False(t, reqCtx.StartTime.IsZero())
}

func TestWithRequestContext_GeneratesCorrelationIDWhenMissing(t *testing.T) {
	ctx := WithRequestContext(context.Background(), "", "", "")

	assert.NotEmpty(t, GetCorrelationID(ctx))
}

func TestGetRequestContext_EmptyWhenNotInjected(t *testing.T) {
	reqCtx := GetRequestContext(context.Background())

	assert.NotNil(t, reqCtx)
	assert.Empty(t, reqCtx.CorrelationID)

	assert.NotNil(t, GetRequestContext(nil))
}

func TestSetUserID(t *testing.T) {
	ctx := WithRequestContext(context.Background(), "corr-1", "", "")

	SetUserID(ctx, "42")
	assert.Equal(t, "42", GetRequestContext(ctx).UserID)

	// No-op on a context without request context.
	SetUserID(context.Background(), "42")
}

func TestGetElapsedTime(t *testing.T) {
	assert.Zero(t, GetElapsedTime(context.Background()))

	ctx := WithRequestContext(context.Background(), "corr-1", "", "")
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, GetElapsedTime(ctx), int64(5))
}
