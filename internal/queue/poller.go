package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayhook/dispatcher/internal/metrics"
	"github.com/relayhook/dispatcher/internal/requestid"
)

type delivery struct {
	id            string
	jobID         string
	attemptNumber int
	runAt         time.Time
}

// Poller ticks, claims due unclaimed deliveries with SKIP LOCKED, and runs
// each against the Runner (the execution engine) concurrently.
type Poller struct {
	pool         *pgxpool.Pool
	runner       Runner
	workerID     string
	pollInterval time.Duration
	batchSize    int
	logger       *slog.Logger
}

func NewPoller(pool *pgxpool.Pool, runner Runner, pollInterval time.Duration, batchSize int, logger *slog.Logger) *Poller {
	hostname, _ := os.Hostname()
	return &Poller{
		pool:         pool,
		runner:       runner,
		workerID:     fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger.With("component", "queue_poller"),
	}
}

func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.logger.Info("poller started", "worker_id", p.workerID, "batch_size", p.batchSize)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller shut down")
			return
		case <-ticker.C:
			p.processBatch(ctx)
		}
	}
}

func (p *Poller) processBatch(ctx context.Context) {
	if depth, err := p.queueDepth(ctx); err != nil {
		p.logger.Error("queue depth", "error", err)
	} else {
		metrics.QueueDepth.Set(float64(depth))
	}

	deliveries, err := p.claim(ctx)
	if err != nil {
		p.logger.Error("claim deliveries", "error", err)
		return
	}
	if len(deliveries) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, d := range deliveries {
		wg.Add(1)
		go func(d delivery) {
			defer wg.Done()
			p.runOne(ctx, d)
		}(d)
	}
	wg.Wait()
}

// queueDepth counts deliveries currently due and unclaimed — a point-in-time
// gauge sampled once per poll, not a running total.
func (p *Poller) queueDepth(ctx context.Context) (int, error) {
	var depth int
	err := p.pool.QueryRow(ctx, `
		SELECT count(*) FROM queue_deliveries
		WHERE run_at <= NOW() AND claimed_at IS NULL`).Scan(&depth)
	return depth, err
}

func (p *Poller) claim(ctx context.Context) ([]delivery, error) {
	rows, err := p.pool.Query(ctx, `
		UPDATE queue_deliveries
		SET    claimed_at = NOW(),
		       claimed_by  = $1
		WHERE id IN (
			SELECT id FROM queue_deliveries
			WHERE  run_at     <= NOW()
			  AND  claimed_at IS NULL
			ORDER BY run_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_id, attempt_number, run_at`, p.workerID, p.batchSize)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	defer rows.Close()

	var out []delivery
	for rows.Next() {
		var d delivery
		if err := rows.Scan(&d.id, &d.jobID, &d.attemptNumber, &d.runAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, d := range out {
		metrics.JobPickupLatency.Observe(time.Since(d.runAt).Seconds())
	}
	return out, nil
}

// runOne invokes the engine and then removes the delivery row. Retries or
// continuations produce a brand new delivery via Queue.Submit — this row's
// job is done regardless of the attempt's outcome.
func (p *Poller) runOne(ctx context.Context, d delivery) {
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	// Each delivery gets its own request id so an attempt's log records can
	// be correlated the same way an HTTP request's can.
	ctx = requestid.WithRequestID(ctx, requestid.New())

	p.runner.Run(ctx, d.jobID, d.attemptNumber)

	if _, err := p.pool.Exec(ctx, `DELETE FROM queue_deliveries WHERE id = $1`, d.id); err != nil {
		p.logger.Error("delete completed delivery", "delivery_id", d.id, "error", err)
	}
}
