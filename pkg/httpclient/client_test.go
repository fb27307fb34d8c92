package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pkgerrors "Stencil/pkg/errors"
	pkglog "Stencil/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRecorder collects call records for assertions.
type memRecorder struct {
	mu      sync.Mutex
	records []*CallRecord
}

func (r *memRecorder) RecordCall(_ context.Context, rec *CallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *memRecorder) all() []*CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*CallRecord, len(r.records))
	copy(out, r.records)
	return out
}

func testLogger() log.Logger {
	return log.NewStdLogger(os.Stdout)
}

func newTestClient(t *testing.T, cfg Config, recorder CallRecorder) *Client {
	t.Helper()
	return New(cfg, NewBreakerRegistry(), recorder, testLogger())
}

func TestClient_SuccessReturnsDecodedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name": "Mumbai", "main": {"temp": 31.5}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Vendor: "weather", BaseURL: srv.URL}, nil)

	payload, _, status, err := c.Get(context.Background(), "/weather", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "Mumbai", payload["name"])
}

func TestClient_PropagatesCorrelationID(t *testing.T) {
	var gotCorrelation, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelation = r.Header.Get("X-Correlation-ID")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Vendor: "weather", BaseURL: srv.URL}, nil)

	ctx := pkglog.WithRequestContext(context.Background(), "corr-abc-123", "", "")
	_, _, _, err := c.Get(ctx, "/weather", nil)
	require.NoError(t, err)

	assert.Equal(t, "corr-abc-123", gotCorrelation)
	assert.Equal(t, "corr-abc-123", gotRequestID)
}

func TestClient_DefaultParamsMergedWithOverrides(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{
		Vendor:        "weather",
		BaseURL:       srv.URL,
		DefaultParams: map[string]string{"appid": "default-key", "units": "metric"},
	}, nil)

	_, _, _, err := c.Get(context.Background(), "/weather", &RequestOptions{
		Params: map[string]string{"q": "Pune", "units": "imperial"},
	})
	require.NoError(t, err)

	assert.Equal(t, "default-key", gotQuery["appid"][0])
	assert.Equal(t, "Pune", gotQuery["q"][0])
	// Per-call params win over target defaults.
	assert.Equal(t, "imperial", gotQuery["units"][0])
}

func TestClient_ClientErrorDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(404)
		w.Write([]byte(`{"message": "city not found"}`))
	}))
	defer srv.Close()

	registry := NewBreakerRegistry()
	cfg := Config{Vendor: "weather", BaseURL: srv.URL, BreakerThreshold: 2}
	c := New(cfg, registry, nil, testLogger())

	for i := 0; i < 5; i++ {
		payload, _, status, err := c.Get(context.Background(), "/weather", nil)
		assert.Equal(t, 404, status)
		assert.Equal(t, "city not found", payload["message"])

		apiErr, ok := pkgerrors.AsExternalAPIError(err)
		require.True(t, ok)
		assert.Equal(t, 404, apiErr.StatusCode)
		assert.False(t, apiErr.CircuitOpen)
	}

	breaker := registry.Get(cfg.targetKey(), cfg.BreakerThreshold, cfg.BreakerCooldown)
	assert.Equal(t, StateClosed, breaker.State())
}

func TestClient_ServerErrorsOpenCircuit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(500)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{
		Vendor:           "weather",
		BaseURL:          srv.URL,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	}, nil)

	for i := 0; i < 3; i++ {
		_, _, _, err := c.Get(context.Background(), "/weather", nil)
		require.Error(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	// Circuit is open now: no further network attempt is made.
	_, _, _, err := c.Get(context.Background(), "/weather", nil)
	require.Error(t, err)
	apiErr, ok := pkgerrors.AsExternalAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.CircuitOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestClient_FallbackRetriedOnceAfterPrimaryFailure(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(500)
	}))
	defer primary.Close()

	var fallbackHits int32
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&fallbackHits, 1)
		w.Write([]byte(`{"source": "fallback"}`))
	}))
	defer fallback.Close()

	recorder := &memRecorder{}
	c := newTestClient(t, Config{
		Vendor:   "weather",
		BaseURL:  primary.URL,
		Fallback: &Config{BaseURL: fallback.URL},
	}, recorder)

	payload, _, status, err := c.Get(context.Background(), "/weather", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "fallback", payload["source"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&fallbackHits))

	// Both the failed primary attempt and the fallback attempt were recorded.
	records := recorder.all()
	require.Len(t, records, 2)
	assert.False(t, records[0].FallbackUsed)
	assert.Equal(t, 500, records[0].StatusCode)
	assert.True(t, records[1].FallbackUsed)
	assert.Equal(t, 200, records[1].StatusCode)
}

func TestClient_RecordsCarryInboundCorrelationID(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(500)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"source": "fallback"}`))
	}))
	defer fallback.Close()

	recorder := &memRecorder{}
	c := newTestClient(t, Config{
		Vendor:   "weather",
		BaseURL:  primary.URL,
		Fallback: &Config{BaseURL: fallback.URL},
	}, recorder)

	ctx := pkglog.WithRequestContext(context.Background(), "corr-out-55", "", "")
	_, _, _, err := c.Get(ctx, "/weather", nil)
	require.NoError(t, err)

	// The failed primary attempt and the fallback attempt are both stamped
	// with the inbound request's correlation ID.
	records := recorder.all()
	require.Len(t, records, 2)
	assert.Equal(t, "corr-out-55", records[0].CorrelationID)
	assert.False(t, records[0].FallbackUsed)
	assert.Equal(t, "corr-out-55", records[1].CorrelationID)
	assert.True(t, records[1].FallbackUsed)
	assert.NotEqual(t, records[0].CallID, records[1].CallID)
}

func TestClient_OpenCircuitRoutesToFallback(t *testing.T) {
	var primaryHits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&primaryHits, 1)
		w.WriteHeader(500)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"source": "fallback"}`))
	}))
	defer fallback.Close()

	c := newTestClient(t, Config{
		Vendor:           "weather",
		BaseURL:          primary.URL,
		BreakerThreshold: 1,
		BreakerCooldown:  time.Minute,
		Fallback:         &Config{BaseURL: fallback.URL},
	}, nil)

	// First call fails the primary and opens its circuit; the fallback answers.
	payload, _, _, err := c.Get(context.Background(), "/weather", nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", payload["source"])

	// Second call: primary circuit open, served by the fallback without
	// touching the primary again.
	payload, _, _, err = c.Get(context.Background(), "/weather", nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", payload["source"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&primaryHits))
}

func TestClient_FallbackFailureReportsBothAttempts(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(502)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(503)
	}))
	defer fallback.Close()

	c := newTestClient(t, Config{
		Vendor:   "weather",
		BaseURL:  primary.URL,
		Fallback: &Config{BaseURL: fallback.URL},
	}, nil)

	_, _, status, err := c.Get(context.Background(), "/weather", nil)
	assert.Equal(t, 503, status)

	apiErr, ok := pkgerrors.AsExternalAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.FallbackAttempted)
	assert.Equal(t, "weather", apiErr.Vendor)
}

func TestClient_NonJSONBodyWrappedAsRawContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("plain text response"))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Vendor: "weather", BaseURL: srv.URL}, nil)

	payload, _, _, err := c.Get(context.Background(), "/status", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text response", payload["raw_content"])
}

func TestClient_RecorderRedactsSecrets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	recorder := &memRecorder{}
	c := newTestClient(t, Config{
		Vendor:  "razorpay",
		BaseURL: srv.URL,
		APIKey:  "super-secret-key",
	}, recorder)

	_, _, _, err := c.Post(context.Background(), "/payments", &RequestOptions{
		Body: map[string]any{"token": "token_abcdef12345", "amount": float64(5000)},
	})
	require.NoError(t, err)

	records := recorder.all()
	require.Len(t, records, 1)
	assert.NotContains(t, records[0].RequestHeaders["X-Api-Key"], "super-secret-key")
	assert.NotEqual(t, "token_abcdef12345", records[0].RequestBody["token"])
	assert.Equal(t, float64(5000), records[0].RequestBody["amount"])
}
