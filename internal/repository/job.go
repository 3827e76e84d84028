package repository

import (
	"context"
	"time"

	"github.com/relayhook/dispatcher/internal/domain"
)

// JobFields is a partial update: only non-nil fields are written, and
// updated_at is always bumped regardless of which fields changed.
type JobFields struct {
	Status         *domain.Status
	ScheduledAt    *time.Time
	CronExpression *string
	PollingState   map[string]any
	Payload        map[string]any
}

// JobStore is the transactional store for Job entities. The due-cron query
// is not here: it lives in the cron store's claim transaction, where it is
// atomic with enqueueing and cursor advancement.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, error)
	LoadJob(ctx context.Context, id string) (*domain.Job, error)
	UpdateJobFields(ctx context.Context, id string, fields JobFields) error
}
