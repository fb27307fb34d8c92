package httpclient

import (
	"testing"
	"time"

	pkgerrors "Stencil/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_StartsClosed(t *testing.T) {
	b := NewBreaker(5, 30*time.Second)

	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_OpensAfterThresholdFailures(t *testing.T) {
	b := NewBreaker(3, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), pkgerrors.ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	// Counter was reset, two more failures are not enough to open.
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, 30*time.Second)
	b.SetClock(func() time.Time { return now })

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	// Still inside the cooldown window.
	now = now.Add(29 * time.Second)
	assert.ErrorIs(t, b.Allow(), pkgerrors.ErrCircuitOpen)

	// Cooldown elapsed: one probe goes through.
	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Allow())

	// A second concurrent probe is rejected.
	assert.ErrorIs(t, b.Allow(), pkgerrors.ErrCircuitOpen)
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, 30*time.Second)
	b.SetClock(func() time.Time { return now })

	b.RecordFailure()
	now = now.Add(31 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, 30*time.Second)
	b.SetClock(func() time.Time { return now })

	b.RecordFailure()
	now = now.Add(31 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), pkgerrors.ErrCircuitOpen)

	// The re-opened breaker honors a fresh cooldown.
	now = now.Add(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_DefaultsApplied(t *testing.T) {
	b := NewBreaker(0, 0)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerRegistry_SameKeyReturnsSameBreaker(t *testing.T) {
	r := NewBreakerRegistry()

	b1 := r.Get("openweathermap|https://api.openweathermap.org", 5, 30*time.Second)
	b2 := r.Get("openweathermap|https://api.openweathermap.org", 5, 30*time.Second)
	assert.Same(t, b1, b2)
}

func TestBreakerRegistry_DistinctTargetsIsolated(t *testing.T) {
	r := NewBreakerRegistry()

	primary := r.Get("openweathermap|https://primary", 1, 30*time.Second)
	fallback := r.Get("openweathermap|https://fallback", 1, 30*time.Second)

	primary.RecordFailure()
	assert.Equal(t, StateOpen, primary.State())
	assert.Equal(t, StateClosed, fallback.State())
	assert.NoError(t, fallback.Allow())
}
