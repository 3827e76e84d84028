package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayhook/dispatcher/internal/domain"
	"github.com/relayhook/dispatcher/internal/repository"
)

type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

func (s *JobStore) CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	query := `
		INSERT INTO jobs (
			app_name, user_id, account_id, board_id, task_type, status,
			schedule_type, scheduled_at, cron_expression,
			polling_interval_seconds, polling_state, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, app_name, user_id, account_id, board_id, task_type, status,
		          schedule_type, scheduled_at, cron_expression,
		          polling_interval_seconds, polling_state, payload,
		          created_at, updated_at`

	row := s.pool.QueryRow(ctx, query,
		job.AppName, job.UserID, job.AccountID, job.BoardID, job.TaskType, job.Status,
		job.ScheduleType, job.ScheduledAt, job.CronExpression,
		job.PollingIntervalSeconds, job.PollingState, job.Payload,
	)

	return scanJob(row)
}

func (s *JobStore) LoadJob(ctx context.Context, id string) (*domain.Job, error) {
	query := `
		SELECT id, app_name, user_id, account_id, board_id, task_type, status,
		       schedule_type, scheduled_at, cron_expression,
		       polling_interval_seconds, polling_state, payload,
		       created_at, updated_at
		FROM jobs
		WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	return scanJob(row)
}

// UpdateJobFields writes only the non-nil fields supplied, always bumping
// updated_at. PollingState/Payload are distinguished from "no change" by the
// caller passing a non-nil map — an empty map is a valid, meaningful value.
func (s *JobStore) UpdateJobFields(ctx context.Context, id string, fields repository.JobFields) error {
	set := []string{"updated_at = NOW()"}
	args := []any{id}

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if fields.Status != nil {
		add("status", *fields.Status)
	}
	if fields.ScheduledAt != nil {
		add("scheduled_at", *fields.ScheduledAt)
	}
	if fields.CronExpression != nil {
		add("cron_expression", *fields.CronExpression)
	}
	if fields.PollingState != nil {
		add("polling_state", fields.PollingState)
	}
	if fields.Payload != nil {
		add("payload", fields.Payload)
	}

	if len(set) == 1 {
		// Nothing but updated_at requested — still a legal no-op call.
		return nil
	}

	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $1`, strings.Join(set, ", "))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// rowScanner is implemented by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID, &j.AppName, &j.UserID, &j.AccountID, &j.BoardID, &j.TaskType, &j.Status,
		&j.ScheduleType, &j.ScheduledAt, &j.CronExpression,
		&j.PollingIntervalSeconds, &j.PollingState, &j.Payload,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
