// Package server wires the HTTP transport: middleware chain, routing and
// the uniform error envelope.
package server

import (
	"encoding/json"
	nethttp "net/http"
	"time"

	"Stencil/internal/biz"
	"Stencil/internal/conf"
	"Stencil/internal/data"
	"Stencil/internal/server/middleware"
	"Stencil/internal/service"
	pkglog "Stencil/pkg/log"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// publicOperations lists the operations served without credentials. The
// webhook endpoint authenticates through its body signature instead.
var publicOperations = []string{
	service.OperationHealthCheck,
	service.OperationAuthRegister,
	service.OperationAuthLogin,
	service.OperationAuthRefresh,
	service.OperationPaymentWebhook,
	service.OperationWeatherCurrent,
}

// NewHTTPServer new an HTTP server.
func NewHTTPServer(
	bc *conf.Bootstrap,
	c *conf.Server,
	authUC *biz.AuthUsecase,
	logStore *data.LogStore,
	authService *service.AuthService,
	paymentService *service.PaymentService,
	weatherService *service.WeatherService,
	adminService *service.AdminService,
	healthService *service.HealthService,
	logger log.Logger,
) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	correlationHeader := "X-Correlation-ID"
	if bc != nil && bc.App != nil && bc.App.CorrelationHeader != "" {
		correlationHeader = bc.App.CorrelationHeader
	}

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper, logStore, correlationHeader),
			middleware.Auth(authUC, logHelper, publicOperations...),
		),
		http.ErrorEncoder(envelopeErrorEncoder),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	r := srv.Route("/api/v1")
	healthService.RegisterRoutes(r)
	authService.RegisterRoutes(r)
	paymentService.RegisterRoutes(r)
	weatherService.RegisterRoutes(r)
	adminService.RegisterRoutes(r)

	return srv
}

// envelopeErrorEncoder writes errors in the same envelope as successful
// responses. The request context has not passed through the middleware
// chain here, so trace fields come from the inbound headers directly.
func envelopeErrorEncoder(w nethttp.ResponseWriter, r *nethttp.Request, err error) {
	se := kratoserrors.FromError(err)

	meta := service.Meta{
		CorrelationID: pkglog.GetCorrelationID(r.Context()),
		RequestID:     pkglog.GetRequestID(r.Context()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if meta.CorrelationID == "" {
		meta.CorrelationID = r.Header.Get("X-Correlation-ID")
	}
	body := &service.Response{
		Status:  "error",
		Message: se.Message,
		Errors: []service.ErrorItem{
			{Code: se.Reason, Message: se.Message},
		},
		Meta: meta,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(int(se.Code))
	_ = json.NewEncoder(w).Encode(body)
}
