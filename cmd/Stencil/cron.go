package main

import (
	"context"
	"time"

	"Stencil/internal/biz"
	"Stencil/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// scheduler runs the recurring background jobs: periodic configuration
// refresh from Redis and retry of pending webhook events.
type scheduler struct {
	cron   *cron.Cron
	helper *log.Helper
}

func newScheduler(payments *biz.PaymentUsecase, config *data.ConfigStore, logger log.Logger) (*scheduler, error) {
	helper := log.NewHelper(logger)
	c := cron.New()

	// Pick up config changes written to Redis by other instances.
	_, err := c.AddFunc("@every 1m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := config.Refresh(ctx); err != nil {
			helper.Warnw("msg", "periodic config refresh failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}

	// Re-apply webhook events that failed on first delivery.
	_, err = c.AddFunc("@every 5m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		retried, err := payments.RetryPendingWebhooks(ctx)
		if err != nil {
			helper.Errorw("msg", "webhook retry sweep failed", "error", err)
			return
		}
		if retried > 0 {
			helper.Infow("msg", "webhook retry sweep completed", "retried", retried)
		}
	})
	if err != nil {
		return nil, err
	}

	return &scheduler{cron: c, helper: helper}, nil
}

// Start begins the cron loop. Registered as a Kratos BeforeStart hook.
func (s *scheduler) Start(_ context.Context) error {
	s.cron.Start()
	s.helper.Info("background scheduler started: config refresh every 1m, webhook retry every 5m")
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	return nil
}
