// Package queue implements the delayed task queue: a Postgres-backed table
// of deliveries, claimed with FOR UPDATE SKIP LOCKED.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Queue schedules exactly one future, at-least-once delivery per Submit
// call. Independent Submit calls for the same job_id each produce an
// independent delivery; the queue never deduplicates.
type Queue interface {
	Submit(ctx context.Context, jobID string, delay time.Duration, attemptNumber int) error
}

// Runner is invoked by the Poller on every claimed delivery.
type Runner interface {
	Run(ctx context.Context, jobID string, attemptNumber int)
}

type PostgresQueue struct {
	pool *pgxpool.Pool
}

func NewPostgresQueue(pool *pgxpool.Pool) *PostgresQueue {
	return &PostgresQueue{pool: pool}
}

func (q *PostgresQueue) Submit(ctx context.Context, jobID string, delay time.Duration, attemptNumber int) error {
	if delay < 0 {
		delay = 0
	}
	runAt := time.Now().Add(delay)

	_, err := q.pool.Exec(ctx, `
		INSERT INTO queue_deliveries (job_id, attempt_number, run_at)
		VALUES ($1, $2, $3)`,
		jobID, attemptNumber, runAt,
	)
	if err != nil {
		return fmt.Errorf("submit delivery: %w", err)
	}
	return nil
}
