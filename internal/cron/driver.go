// Package cron implements the periodic sweep that enqueues due cron jobs
// and advances their next-run cursor.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relayhook/dispatcher/internal/domain"
	"github.com/relayhook/dispatcher/internal/metrics"
)

// Store is the transactional claim-and-advance operation the driver needs;
// implemented by internal/infrastructure/postgres.CronStore.
type Store interface {
	ClaimDueCronJobs(ctx context.Context, now time.Time, limit int, computeNext func(cronExpr string, now time.Time) (time.Time, error)) ([]*domain.Job, error)
}

const batchSize = 100

// Driver sweeps for due cron jobs every sweepInterval (60s in production,
// tunable for local runs).
type Driver struct {
	store         Store
	sweepInterval time.Duration
	logger        *slog.Logger
}

func NewDriver(store Store, sweepInterval time.Duration, logger *slog.Logger) *Driver {
	return &Driver{store: store, sweepInterval: sweepInterval, logger: logger.With("component", "cron_driver")}
}

func (d *Driver) Start(ctx context.Context) {
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	d.logger.Info("cron driver started", "interval", d.sweepInterval)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("cron driver shut down")
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *Driver) sweep(ctx context.Context) {
	start := time.Now()
	fired, err := d.store.ClaimDueCronJobs(ctx, start.UTC(), batchSize, NextFire)
	metrics.CronSweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		d.logger.Error("cron sweep", "error", err)
		return
	}
	if len(fired) > 0 {
		metrics.CronJobsFiredTotal.Add(float64(len(fired)))
		d.logger.Info("cron driver fired jobs", "count", len(fired))
	}
}

// NextFire computes the next fire time strictly after now.
// ValidateExpression already rejected anything this can't parse at
// submission time, so a failure here only guards against a corrupted row.
func NextFire(expr string, now time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now).UTC(), nil
}

// ValidateExpression reports whether expr can be parsed by the cron driver.
// Submission calls this and rejects the request rather than storing an
// unschedulable cron job.
func ValidateExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	if err != nil {
		return domain.ErrInvalidCron
	}
	return nil
}

// FirstFire computes the first run time for a freshly submitted cron job.
func FirstFire(expr string, now time.Time) (time.Time, error) {
	return NextFire(expr, now)
}
