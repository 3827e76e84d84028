// Package scheduler implements the submission primitives that create a Job
// in its initial state and, except for cron, hand a task to the delayed
// queue.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/relayhook/dispatcher/internal/cron"
	"github.com/relayhook/dispatcher/internal/domain"
	"github.com/relayhook/dispatcher/internal/queue"
	"github.com/relayhook/dispatcher/internal/repository"
)

// SubmitConfig carries the identity and worker-routing fields every
// primitive needs. AppName/ExternalUserID/AccountID/TaskType are required;
// BoardID is optional. Extra holds any additional non-identity keys the
// handler config wants merged into the stored payload.
type SubmitConfig struct {
	AppName          string
	ExternalUserID   string
	AccountID        string
	BoardID          *string
	TaskType         string
	CallbackURL      string
	MaxRetries       int
	RetryBackoffBase int
	Extra            map[string]any
}

type Submitter struct {
	users repository.UserStore
	jobs  repository.JobStore
	queue queue.Queue
}

func NewSubmitter(users repository.UserStore, jobs repository.JobStore, q queue.Queue) *Submitter {
	return &Submitter{users: users, jobs: jobs, queue: q}
}

// buildPayload merges callback_url/max_retries/retry_backoff_base/data with
// any cfg.Extra keys that don't collide.
func buildPayload(cfg SubmitConfig, data map[string]any) map[string]any {
	payload := map[string]any{
		"callback_url":       cfg.CallbackURL,
		"max_retries":        cfg.MaxRetries,
		"retry_backoff_base": cfg.RetryBackoffBase,
		"data":               data,
	}
	for k, v := range cfg.Extra {
		if _, exists := payload[k]; !exists {
			payload[k] = v
		}
	}
	return payload
}

func (s *Submitter) resolveUser(ctx context.Context, cfg SubmitConfig) (*domain.AppUser, error) {
	user, err := s.users.GetOrCreateUser(ctx, cfg.AppName, cfg.ExternalUserID)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	return user, nil
}

func (s *Submitter) newJob(cfg SubmitConfig, userID string, scheduleType domain.ScheduleType, data map[string]any) *domain.Job {
	return &domain.Job{
		AppName:      cfg.AppName,
		UserID:       userID,
		AccountID:    cfg.AccountID,
		BoardID:      cfg.BoardID,
		TaskType:     cfg.TaskType,
		Status:       domain.StatusQueued,
		ScheduleType: scheduleType,
		Payload:      buildPayload(cfg, data),
	}
}

// RunImmediate creates a job and submits it for delivery with no delay.
func (s *Submitter) RunImmediate(ctx context.Context, cfg SubmitConfig, data map[string]any) (*domain.Job, error) {
	user, err := s.resolveUser(ctx, cfg)
	if err != nil {
		return nil, err
	}
	job := s.newJob(cfg, user.ID, domain.ScheduleImmediate, data)

	created, err := s.jobs.CreateJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.queue.Submit(ctx, created.ID, 0, 1); err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	return created, nil
}

// RunAt creates a job scheduled for ts and submits it with delay =
// max(0, ts-now). ts is normalized to UTC before storage.
func (s *Submitter) RunAt(ctx context.Context, cfg SubmitConfig, data map[string]any, ts time.Time) (*domain.Job, error) {
	user, err := s.resolveUser(ctx, cfg)
	if err != nil {
		return nil, err
	}
	utcTS := ts.UTC()
	job := s.newJob(cfg, user.ID, domain.ScheduleRunAt, data)
	job.ScheduledAt = &utcTS

	created, err := s.jobs.CreateJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	delay := time.Until(utcTS)
	if delay < 0 {
		delay = 0
	}
	if err := s.queue.Submit(ctx, created.ID, delay, 1); err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	return created, nil
}

// RunAfterDelay is RunAt(now + d).
func (s *Submitter) RunAfterDelay(ctx context.Context, cfg SubmitConfig, data map[string]any, d time.Duration) (*domain.Job, error) {
	return s.RunAt(ctx, cfg, data, time.Now().UTC().Add(d))
}

// RunCron creates a cron job at its first fire time. An invalid expression
// fails the submission instead of silently leaving the job unschedulable.
func (s *Submitter) RunCron(ctx context.Context, cfg SubmitConfig, data map[string]any, expr string) (*domain.Job, error) {
	if err := cron.ValidateExpression(expr); err != nil {
		return nil, err
	}
	first, err := cron.FirstFire(expr, time.Now().UTC())
	if err != nil {
		return nil, domain.ErrInvalidCron
	}

	user, err := s.resolveUser(ctx, cfg)
	if err != nil {
		return nil, err
	}
	job := s.newJob(cfg, user.ID, domain.ScheduleCron, data)
	job.CronExpression = &expr
	job.ScheduledAt = &first

	created, err := s.jobs.CreateJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	// No queue submission — the Cron Driver enqueues when the job comes due.
	return created, nil
}

// RunPolling creates a polling job with empty initial state and submits it
// for an immediate first attempt.
func (s *Submitter) RunPolling(ctx context.Context, cfg SubmitConfig, data map[string]any, interval time.Duration) (*domain.Job, error) {
	user, err := s.resolveUser(ctx, cfg)
	if err != nil {
		return nil, err
	}
	job := s.newJob(cfg, user.ID, domain.SchedulePolling, data)
	intervalSeconds := int(interval.Seconds())
	job.PollingIntervalSeconds = &intervalSeconds
	job.PollingState = map[string]any{}

	created, err := s.jobs.CreateJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.queue.Submit(ctx, created.ID, 0, 1); err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	return created, nil
}
