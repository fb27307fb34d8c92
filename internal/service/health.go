package service

import (
	"context"
	"time"

	"Stencil/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// OperationHealthCheck is the public liveness/readiness operation.
const OperationHealthCheck = "/stencil.v1.Health/Check"

// HealthService reports service and dependency health.
type HealthService struct {
	db     *gorm.DB
	rdb    *redis.Client
	env    string
	logger *log.Helper
}

// NewHealthService creates the health service.
func NewHealthService(bc *conf.Bootstrap, db *gorm.DB, rdb *redis.Client, logger log.Logger) *HealthService {
	env := "dev"
	if bc != nil && bc.App != nil && bc.App.Env != "" {
		env = bc.App.Env
	}
	return &HealthService{
		db:     db,
		rdb:    rdb,
		env:    env,
		logger: log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the health endpoint on the router.
func (s *HealthService) RegisterRoutes(r *khttp.Router) {
	r.GET("/health", s.Check)
}

// Check handles GET /health. It pings the database and Redis with a short
// deadline; a degraded dependency does not fail the endpoint.
func (s *HealthService) Check(ctx khttp.Context) error {
	khttp.SetOperation(ctx, OperationHealthCheck)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		pingCtx, cancel := context.WithTimeout(c, 2*time.Second)
		defer cancel()

		dbStatus := "up"
		if sqlDB, err := s.db.DB(); err != nil {
			dbStatus = "down"
		} else if err := sqlDB.PingContext(pingCtx); err != nil {
			dbStatus = "down"
		}

		redisStatus := "up"
		if s.rdb == nil {
			redisStatus = "disabled"
		} else if err := s.rdb.Ping(pingCtx).Err(); err != nil {
			redisStatus = "down"
		}

		status := "healthy"
		if dbStatus == "down" {
			status = "degraded"
		}
		return Success(c, "", map[string]any{
			"status": status,
			"env":    s.env,
			"checks": map[string]string{
				"database": dbStatus,
				"redis":    redisStatus,
			},
		}), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}
