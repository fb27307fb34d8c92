package middleware

import (
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"testing"

	"Stencil/internal/data"
	pkglog "Stencil/pkg/log"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureRecorder keeps recorded request logs for assertions.
type captureRecorder struct {
	records []*data.RequestLog
}

func (r *captureRecorder) RecordRequest(_ context.Context, rec *data.RequestLog) {
	r.records = append(r.records, rec)
}

// headerCarrier adapts nethttp.Header to the kratos transport.Header
// interface.
type headerCarrier nethttp.Header

func (h headerCarrier) Get(key string) string      { return nethttp.Header(h).Get(key) }
func (h headerCarrier) Set(key, value string)      { nethttp.Header(h).Set(key, value) }
func (h headerCarrier) Add(key, value string)      { nethttp.Header(h).Add(key, value) }
func (h headerCarrier) Values(key string) []string { return nethttp.Header(h).Values(key) }
func (h headerCarrier) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range nethttp.Header(h) {
		keys = append(keys, k)
	}
	return keys
}

// fakeTransport satisfies the kratos http.Transporter so the middleware sees
// a real inbound request without a listening server.
type fakeTransport struct {
	req *nethttp.Request
}

func (t *fakeTransport) Kind() transport.Kind            { return transport.KindHTTP }
func (t *fakeTransport) Endpoint() string                { return "" }
func (t *fakeTransport) Operation() string               { return t.req.URL.Path }
func (t *fakeTransport) RequestHeader() transport.Header { return headerCarrier(t.req.Header) }
func (t *fakeTransport) ReplyHeader() transport.Header   { return headerCarrier{} }
func (t *fakeTransport) Request() *nethttp.Request       { return t.req }
func (t *fakeTransport) PathTemplate() string            { return t.req.URL.Path }

func serveLogging(t *testing.T, req *nethttp.Request, handler func(ctx context.Context) (interface{}, error)) (*data.RequestLog, error) {
	t.Helper()

	recorder := &captureRecorder{}
	m := Logging(pkglog.NewLogHelper(log.NewStdLogger(os.Stdout)), recorder, "X-Correlation-ID")

	ctx := transport.NewServerContext(context.Background(), &fakeTransport{req: req})
	_, err := m(func(ctx context.Context, _ interface{}) (interface{}, error) {
		return handler(ctx)
	})(ctx, nil)

	require.Len(t, recorder.records, 1)
	return recorder.records[0], err
}

func TestLogging_RecordCarriesInboundCorrelationID(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/weather?city=Pune", nil)
	req.Header.Set("X-Correlation-ID", "corr-in-77")

	var handlerCorrelation string
	rec, err := serveLogging(t, req, func(ctx context.Context) (interface{}, error) {
		handlerCorrelation = pkglog.GetCorrelationID(ctx)
		return nil, nil
	})
	require.NoError(t, err)

	// The inbound header, the handler's context and the persisted record all
	// agree on the correlation ID.
	assert.Equal(t, "corr-in-77", handlerCorrelation)
	assert.Equal(t, "corr-in-77", rec.CorrelationID)
	assert.Equal(t, "GET", rec.Method)
	assert.Equal(t, "/api/v1/weather", rec.Path)
	assert.Equal(t, "city=Pune", rec.Query)
	assert.Equal(t, 200, rec.StatusCode)
}

func TestLogging_GeneratesCorrelationIDWhenHeaderMissing(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/health", nil)

	var handlerCorrelation string
	rec, err := serveLogging(t, req, func(ctx context.Context) (interface{}, error) {
		handlerCorrelation = pkglog.GetCorrelationID(ctx)
		return nil, nil
	})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.CorrelationID)
	assert.Equal(t, handlerCorrelation, rec.CorrelationID)
}

func TestLogging_HandlerDeclaredStatusRecorded(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/auth/register", nil)

	rec, err := serveLogging(t, req, func(ctx context.Context) (interface{}, error) {
		pkglog.SetStatusCode(ctx, 201)
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 201, rec.StatusCode)
	assert.Empty(t, rec.ErrorMessage)
}

func TestLogging_ErrorStatusRecorded(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/weather", nil)

	rec, err := serveLogging(t, req, func(ctx context.Context) (interface{}, error) {
		return nil, kratoserrors.NotFound("CITY_NOT_FOUND", "city not found")
	})
	require.Error(t, err)

	assert.Equal(t, 404, rec.StatusCode)
	assert.Equal(t, "city not found", rec.ErrorMessage)
}

func TestLogging_AuthenticatedUserRecorded(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/payments/mandates", nil)

	rec, err := serveLogging(t, req, func(ctx context.Context) (interface{}, error) {
		pkglog.SetUserID(ctx, "usr_123")
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, "usr_123", rec.UserID)
}
