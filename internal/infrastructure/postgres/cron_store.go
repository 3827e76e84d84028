package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayhook/dispatcher/internal/domain"
)

type CronStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewCronStore(pool *pgxpool.Pool, logger *slog.Logger) *CronStore {
	return &CronStore{pool: pool, logger: logger.With("component", "cron_store")}
}

// ClaimDueCronJobs atomically claims due cron jobs, enqueues a fresh delivery
// for each, and advances scheduled_at, all in one transaction: a crash
// mid-sweep never leaves a job both enqueued and un-advanced.
//
// computeNext returns the next fire time for a cron expression. If it errors,
// the cursor is left untouched and the job stays eligible on the next sweep;
// the success branch always advances strictly past now, so a fired job is
// never re-enqueued within the same window.
func (s *CronStore) ClaimDueCronJobs(
	ctx context.Context,
	now time.Time,
	limit int,
	computeNext func(cronExpr string, now time.Time) (time.Time, error),
) ([]*domain.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, app_name, user_id, account_id, board_id, task_type, status,
		       schedule_type, scheduled_at, cron_expression,
		       polling_interval_seconds, polling_state, payload,
		       created_at, updated_at
		FROM jobs
		WHERE schedule_type = $1
		  AND status = $2
		  AND scheduled_at <= $3
		  AND cron_expression IS NOT NULL
		  AND cron_expression <> ''
		ORDER BY scheduled_at ASC
		LIMIT $4
		FOR UPDATE SKIP LOCKED`,
		domain.ScheduleCron, domain.StatusQueued, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due cron jobs: %w", err)
	}
	due, err := scanJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	var fired []*domain.Job
	for _, job := range due {
		if _, err := tx.Exec(ctx, `
			INSERT INTO queue_deliveries (job_id, attempt_number, run_at)
			VALUES ($1, 1, NOW())`, job.ID,
		); err != nil {
			return nil, fmt.Errorf("enqueue cron delivery for job %s: %w", job.ID, err)
		}

		next, computeErr := computeNext(*job.CronExpression, now)
		if computeErr != nil {
			s.logger.Warn("cron expression failed to parse, skipping advancement",
				"job_id", job.ID, "cron_expression", *job.CronExpression, "error", computeErr)
			fired = append(fired, job)
			continue
		}

		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET scheduled_at = $2, updated_at = NOW() WHERE id = $1`,
			job.ID, next,
		); err != nil {
			return nil, fmt.Errorf("advance cron job %s: %w", job.ID, err)
		}
		fired = append(fired, job)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return fired, nil
}
