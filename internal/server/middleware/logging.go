// Package middleware provides HTTP middleware for authentication, logging
// and request processing.
package middleware

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"Stencil/internal/data"
	pkglog "Stencil/pkg/log"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// slowRequestThresholdMs flags requests slower than this for a separate
// warning line.
const slowRequestThresholdMs = 3000

// RequestRecorder persists inbound request records. *data.LogStore is the
// production implementation.
type RequestRecorder interface {
	RecordRequest(ctx context.Context, rec *data.RequestLog)
}

// Logging returns a middleware that stitches a correlation ID onto every
// request, logs the request line on completion and queues a persistent
// record with the log store.
//
// The correlation ID is taken from the configured inbound header when
// present, otherwise generated. X-Account-ID and X-Journey-ID are optional
// caller-supplied partner identifiers carried through to logs.
func Logging(logger *pkglog.LogHelper, store RequestRecorder, correlationHeader string) middleware.Middleware {
	if correlationHeader == "" {
		correlationHeader = "X-Correlation-ID"
	}
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				method        string
				path          string
				query         string
				ip            string
				userAgent     string
				correlationID string
				accountID     string
				journeyID     string
				headers       map[string]string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Operation()
				path = tr.Operation()

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					query = httpReq.URL.RawQuery

					ip = extractClientIP(httpReq)
					userAgent = httpReq.Header.Get("User-Agent")

					correlationID = httpReq.Header.Get(correlationHeader)
					accountID = httpReq.Header.Get("X-Account-ID")
					journeyID = httpReq.Header.Get("X-Journey-ID")

					headers = make(map[string]string, len(httpReq.Header))
					for name := range httpReq.Header {
						headers[name] = httpReq.Header.Get(name)
					}
				}
			}

			// Inject the request context so every downstream log line and
			// vendor call carries the same correlation ID.
			ctx = pkglog.WithRequestContext(ctx, correlationID, accountID, journeyID)

			reply, err := handler(ctx, req)

			duration := time.Since(startTime).Milliseconds()
			// Success replies are written by the transport after this
			// middleware returns; handlers declare non-200 statuses through
			// the request context.
			status := pkglog.GetStatusCode(ctx)
			if status == 0 {
				status = 200
			}
			errMsg := ""
			if err != nil {
				se := kratoserrors.FromError(err)
				status = int(se.Code)
				errMsg = se.Message
			}

			logger.RequestWithContext(ctx, method, path, status, duration,
				"ip", ip,
				"user_agent", userAgent,
			)
			if duration > slowRequestThresholdMs {
				logger.SlowRequest(ctx, method, path, duration, slowRequestThresholdMs)
			}

			if store != nil {
				reqCtx := pkglog.GetRequestContext(ctx)
				store.RecordRequest(ctx, &data.RequestLog{
					CorrelationID: reqCtx.CorrelationID,
					RequestID:     reqCtx.RequestID,
					Timestamp:     startTime,
					Method:        method,
					Path:          path,
					Query:         query,
					StatusCode:    status,
					DurationMs:    float64(duration),
					ClientIP:      ip,
					UserAgent:     userAgent,
					AccountID:     accountID,
					JourneyID:     journeyID,
					UserID:        reqCtx.UserID,
					Headers:       marshalHeaders(pkglog.SanitizeHeaders(headers)),
					ErrorMessage:  errMsg,
				})
			}

			return reply, err
		}
	}
}

func marshalHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	raw, err := json.Marshal(headers)
	if err != nil {
		return ""
	}
	return string(raw)
}

// extractClientIP resolves the client's real IP.
// Priority: X-Real-IP > X-Forwarded-For (first hop) > RemoteAddr.
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	return req.RemoteAddr
}
