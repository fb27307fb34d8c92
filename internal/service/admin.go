package service

import (
	"context"
	"strconv"
	"time"

	"Stencil/internal/data"
	"Stencil/internal/model"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// Operation names for the admin surface. All require authentication.
const (
	OperationAdminRequestLogs  = "/stencil.v1.Admin/RequestLogs"
	OperationAdminVendorCalls  = "/stencil.v1.Admin/VendorCalls"
	OperationAdminVendorStats  = "/stencil.v1.Admin/VendorStats"
	OperationAdminConfigList   = "/stencil.v1.Admin/ConfigList"
	OperationAdminConfigGet    = "/stencil.v1.Admin/ConfigGet"
	OperationAdminConfigSet    = "/stencil.v1.Admin/ConfigSet"
	OperationAdminConfigDelete = "/stencil.v1.Admin/ConfigDelete"
	OperationAdminConfigReload = "/stencil.v1.Admin/ConfigReload"
	OperationAdminConfigSeed   = "/stencil.v1.Admin/ConfigSeed"
)

// AdminService exposes log inspection and runtime configuration endpoints.
type AdminService struct {
	logs   *data.LogStore
	config *data.ConfigStore
	logger *log.Helper
}

// NewAdminService creates the admin service.
func NewAdminService(logs *data.LogStore, config *data.ConfigStore, logger log.Logger) *AdminService {
	return &AdminService{
		logs:   logs,
		config: config,
		logger: log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the admin endpoints on the router.
func (s *AdminService) RegisterRoutes(r *khttp.Router) {
	r.GET("/admin/logs/requests", s.RequestLogs)
	r.GET("/admin/logs/vendor-calls", s.VendorCalls)
	r.GET("/admin/logs/stats", s.VendorStats)
	r.GET("/admin/config", s.ConfigList)
	r.POST("/admin/config/reload", s.ConfigReload)
	r.POST("/admin/config/seed", s.ConfigSeed)
	r.GET("/admin/config/{key}", s.ConfigGet)
	r.PUT("/admin/config/{key}", s.ConfigSet)
	r.DELETE("/admin/config/{key}", s.ConfigDelete)
}

type configSetRequest struct {
	Value any `json:"value"`
}

func parseTimeParam(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RequestLogs handles GET /admin/logs/requests.
func (s *AdminService) RequestLogs(ctx khttp.Context) error {
	q := ctx.Query()
	statusCode, _ := strconv.Atoi(q.Get("status_code"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	filter := data.RequestLogFilter{
		CorrelationID: q.Get("correlation_id"),
		Path:          q.Get("path"),
		StatusCode:    statusCode,
		AccountID:     q.Get("account_id"),
		From:          parseTimeParam(q.Get("from")),
		To:            parseTimeParam(q.Get("to")),
		Limit:         limit,
		Offset:        offset,
	}

	khttp.SetOperation(ctx, OperationAdminRequestLogs)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		logs, total, err := s.logs.QueryRequestLogs(c, filter)
		if err != nil {
			return nil, err
		}
		return Success(c, "", map[string]any{
			"logs":  logs,
			"total": total,
		}), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// VendorCalls handles GET /admin/logs/vendor-calls.
func (s *AdminService) VendorCalls(ctx khttp.Context) error {
	q := ctx.Query()
	statusCode, _ := strconv.Atoi(q.Get("status_code"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	filter := data.VendorCallFilter{
		CorrelationID: q.Get("correlation_id"),
		Vendor:        q.Get("vendor"),
		StatusCode:    statusCode,
		From:          parseTimeParam(q.Get("from")),
		To:            parseTimeParam(q.Get("to")),
		Limit:         limit,
		Offset:        offset,
	}
	if raw := q.Get("fallback_used"); raw != "" {
		used := raw == "true" || raw == "1"
		filter.FallbackUsed = &used
	}

	khttp.SetOperation(ctx, OperationAdminVendorCalls)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		calls, total, err := s.logs.QueryVendorCalls(c, filter)
		if err != nil {
			return nil, err
		}
		return Success(c, "", map[string]any{
			"calls": calls,
			"total": total,
		}), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// VendorStats handles GET /admin/logs/stats?window=24h.
func (s *AdminService) VendorStats(ctx khttp.Context) error {
	window := 24 * time.Hour
	if raw := ctx.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return kratoserrors.BadRequest("INVALID_WINDOW", "window must be a positive duration such as 1h or 24h")
		}
		window = parsed
	}
	since := time.Now().Add(-window)

	khttp.SetOperation(ctx, OperationAdminVendorStats)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		stats, err := s.logs.VendorCallStats(c, since)
		if err != nil {
			return nil, err
		}
		return Success(c, "", map[string]any{
			"since": since.UTC().Format(time.RFC3339),
			"stats": stats,
		}), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// ConfigList handles GET /admin/config.
func (s *AdminService) ConfigList(ctx khttp.Context) error {
	khttp.SetOperation(ctx, OperationAdminConfigList)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return Success(c, "", map[string]any{
			"env":    s.config.Env(),
			"values": s.config.All(),
		}), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// ConfigGet handles GET /admin/config/{key}.
func (s *AdminService) ConfigGet(ctx khttp.Context) error {
	key := ctx.Vars().Get("key")
	if key == "" {
		return kratoserrors.BadRequest("MISSING_KEY", "config key is required")
	}

	khttp.SetOperation(ctx, OperationAdminConfigGet)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		value, ok := s.config.Get(key)
		if !ok {
			return nil, kratoserrors.NotFound("CONFIG_KEY_NOT_FOUND", "no value for key "+key)
		}
		return Success(c, "", map[string]any{
			"key":   key,
			"value": value.Interface(),
		}), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// ConfigSet handles PUT /admin/config/{key}.
func (s *AdminService) ConfigSet(ctx khttp.Context) error {
	key := ctx.Vars().Get("key")
	if key == "" {
		return kratoserrors.BadRequest("MISSING_KEY", "config key is required")
	}
	var req configSetRequest
	if err := ctx.Bind(&req); err != nil {
		return kratoserrors.BadRequest("INVALID_BODY", "request body is not valid JSON")
	}
	value, err := model.FromAny(req.Value)
	if err != nil {
		return kratoserrors.BadRequest("INVALID_VALUE", err.Error())
	}

	khttp.SetOperation(ctx, OperationAdminConfigSet)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		if err := s.config.Set(c, key, value); err != nil {
			return nil, err
		}
		return Success(c, "config value stored", map[string]any{
			"key":   key,
			"value": value.Interface(),
		}), nil
	})
	out, err := h(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// ConfigDelete handles DELETE /admin/config/{key}.
func (s *AdminService) ConfigDelete(ctx khttp.Context) error {
	key := ctx.Vars().Get("key")
	if key == "" {
		return kratoserrors.BadRequest("MISSING_KEY", "config key is required")
	}

	khttp.SetOperation(ctx, OperationAdminConfigDelete)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		if err := s.config.Delete(c, key); err != nil {
			return nil, err
		}
		return Success(c, "config value deleted", map[string]any{"key": key}), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// ConfigReload handles POST /admin/config/reload. It re-reads from Redis,
// falling back to the environment JSON file when Redis is unavailable.
func (s *AdminService) ConfigReload(ctx khttp.Context) error {
	khttp.SetOperation(ctx, OperationAdminConfigReload)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		if err := s.config.Refresh(c); err != nil {
			return nil, kratoserrors.ServiceUnavailable("CONFIG_RELOAD_FAILED", err.Error())
		}
		return Success(c, "configuration reloaded", map[string]any{
			"env":  s.config.Env(),
			"keys": len(s.config.Keys()),
		}), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// ConfigSeed handles POST /admin/config/seed. It pushes the environment
// JSON file into the Redis hash, for bootstrapping a fresh environment.
func (s *AdminService) ConfigSeed(ctx khttp.Context) error {
	khttp.SetOperation(ctx, OperationAdminConfigSeed)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		if err := s.config.SeedRedisFromFile(c); err != nil {
			return nil, kratoserrors.ServiceUnavailable("CONFIG_SEED_FAILED", err.Error())
		}
		return Success(c, "configuration seeded from file", map[string]any{
			"env":  s.config.Env(),
			"keys": len(s.config.Keys()),
		}), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}
