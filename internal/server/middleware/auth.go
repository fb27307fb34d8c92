package middleware

import (
	"context"
	"strconv"
	"strings"
	"time"

	"Stencil/internal/biz"
	pkglog "Stencil/pkg/log"

	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/middleware/selector"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// apiKeyHeader is the header carrying a raw API key as an alternative to a
// bearer token.
const apiKeyHeader = "X-API-Key"

// Auth returns a middleware that authenticates requests with either a
// Bearer JWT or an API key, skipping the operations in publicOps. The
// resolved caller identity is attached to the context for the handlers.
func Auth(uc *biz.AuthUsecase, logger *pkglog.LogHelper, publicOps ...string) middleware.Middleware {
	authn := authenticate(uc, logger)
	if len(publicOps) == 0 {
		return authn
	}
	public := make(map[string]struct{}, len(publicOps))
	for _, op := range publicOps {
		public[op] = struct{}{}
	}
	return selector.Server(authn).
		Match(func(_ context.Context, operation string) bool {
			_, skip := public[operation]
			return !skip
		}).
		Build()
}

func authenticate(uc *biz.AuthUsecase, logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				bearer string
				apiKey string
			)
			if tr, ok := transport.FromServerContext(ctx); ok {
				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					authHeader := httpReq.Header.Get("Authorization")
					if strings.HasPrefix(authHeader, "Bearer ") {
						bearer = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
					}
					apiKey = httpReq.Header.Get(apiKeyHeader)
				}
			}

			var (
				id  *biz.Identity
				err error
			)
			switch {
			case bearer != "":
				id, err = uc.ValidateToken(ctx, bearer)
			case apiKey != "":
				id, err = uc.ValidateAPIKey(ctx, apiKey)
			default:
				return nil, biz.ErrInvalidToken
			}
			if err != nil {
				logger.Security("authentication rejected",
					"via", credentialKind(bearer),
					"error", err.Error(),
				)
				return nil, err
			}

			pkglog.SetUserID(ctx, strconv.FormatInt(id.UserID, 10))
			ctx = biz.NewIdentityContext(ctx, id)

			logger.Auth("authenticated "+id.Username+" via "+id.Via+
				" in "+strconv.FormatInt(time.Since(startTime).Milliseconds(), 10)+"ms",
				"user_id", id.UserID,
				"via", id.Via,
			)

			return handler(ctx, req)
		}
	}
}

func credentialKind(bearer string) string {
	if bearer != "" {
		return "jwt"
	}
	return "api_key"
}
