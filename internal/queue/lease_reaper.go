package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayhook/dispatcher/internal/metrics"
)

// LeaseReaper reclaims deliveries whose claim has outlived the lease
// timeout; a worker that crashed mid-attempt leaves its delivery row
// claimed forever otherwise. It resets the claim rather than touching job
// status, which is owned by the execution engine.
type LeaseReaper struct {
	pool         *pgxpool.Pool
	interval     time.Duration
	leaseTimeout time.Duration
	logger       *slog.Logger
}

func NewLeaseReaper(pool *pgxpool.Pool, interval, leaseTimeout time.Duration, logger *slog.Logger) *LeaseReaper {
	return &LeaseReaper{
		pool:         pool,
		interval:     interval,
		leaseTimeout: leaseTimeout,
		logger:       logger.With("component", "lease_reaper"),
	}
}

func (r *LeaseReaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("lease reaper started", "interval", r.interval, "lease_timeout", r.leaseTimeout)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("lease reaper shut down")
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *LeaseReaper) reap(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.ReaperCycleDuration.Observe(time.Since(start).Seconds()) }()

	cutoff := start.Add(-r.leaseTimeout)

	tag, err := r.pool.Exec(ctx, `
		UPDATE queue_deliveries
		SET    claimed_at = NULL,
		       claimed_by = NULL
		WHERE id IN (
			SELECT id FROM queue_deliveries
			WHERE  claimed_at < $1
			ORDER BY claimed_at ASC
			LIMIT 100
			FOR UPDATE SKIP LOCKED
		)`, cutoff)
	if err != nil {
		r.logger.Error("reclaim stale deliveries", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		metrics.ReaperRescuedTotal.WithLabelValues("requeued").Add(float64(n))
		r.logger.Warn("reclaimed stale deliveries", "count", n)
	}
}
