package repository

import (
	"context"

	"github.com/relayhook/dispatcher/internal/domain"
)

// LogStore is the only write path for JobLog. InsertLogIfAbsent is an atomic
// upsert-no-overwrite on idempotency_key: a replayed insert resolves to the
// existing row rather than erroring or duplicating.
type LogStore interface {
	InsertLogIfAbsent(ctx context.Context, log *domain.JobLog) (row *domain.JobLog, inserted bool, err error)
	ListRecentLogs(ctx context.Context, jobID string, limit int) ([]*domain.JobLog, error)
}
