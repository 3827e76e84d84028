package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayhook/dispatcher/internal/domain"
)

type LogStore struct {
	pool *pgxpool.Pool
}

func NewLogStore(pool *pgxpool.Pool) *LogStore {
	return &LogStore{pool: pool}
}

// InsertLogIfAbsent is the only write path for JobLog. A replayed insert for
// the same idempotency_key resolves to the existing row instead of erroring
// or duplicating.
func (s *LogStore) InsertLogIfAbsent(ctx context.Context, log *domain.JobLog) (*domain.JobLog, bool, error) {
	insertQuery := `
		INSERT INTO job_logs (job_id, event_type, attempt_number, idempotency_key, error_type, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id, job_id, event_type, attempt_number, idempotency_key, error_type, metadata, created_at`

	row := s.pool.QueryRow(ctx, insertQuery,
		log.JobID, log.EventType, log.AttemptNumber, log.IdempotencyKey, log.ErrorType, log.Metadata,
	)

	inserted, err := scanJobLog(row)
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert log: %w", err)
	}

	existing, err := s.findByIdempotencyKey(ctx, log.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *LogStore) findByIdempotencyKey(ctx context.Context, key string) (*domain.JobLog, error) {
	query := `
		SELECT id, job_id, event_type, attempt_number, idempotency_key, error_type, metadata, created_at
		FROM job_logs
		WHERE idempotency_key = $1`

	row := s.pool.QueryRow(ctx, query, key)
	l, err := scanJobLog(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("log %q vanished after conflict: %w", key, err)
		}
		return nil, err
	}
	return l, nil
}

func (s *LogStore) ListRecentLogs(ctx context.Context, jobID string, limit int) ([]*domain.JobLog, error) {
	query := `
		SELECT id, job_id, event_type, attempt_number, idempotency_key, error_type, metadata, created_at
		FROM job_logs
		WHERE job_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent logs: %w", err)
	}
	defer rows.Close()

	var logs []*domain.JobLog
	for rows.Next() {
		l, err := scanJobLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func scanJobLog(row rowScanner) (*domain.JobLog, error) {
	var l domain.JobLog
	err := row.Scan(
		&l.ID, &l.JobID, &l.EventType, &l.AttemptNumber, &l.IdempotencyKey,
		&l.ErrorType, &l.Metadata, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
