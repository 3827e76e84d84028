package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relayhook/dispatcher/internal/domain"
	"github.com/relayhook/dispatcher/internal/repository"
	"github.com/relayhook/dispatcher/internal/scheduler"
)

// ErrInvalidSchedule is returned when a schedule's type-specific fields are
// missing or nonsensical — surfaced by the handler as a 400.
var ErrInvalidSchedule = errors.New("invalid schedule")

// ScheduleInput carries the discriminated-union schedule shape from the
// ingress request: which fields matter depends on Type.
type ScheduleInput struct {
	Type                   string
	RunAt                  *time.Time
	Cron                   string
	DelaySeconds           int
	PollingIntervalSeconds int
}

type CreateJobInput struct {
	AppName        string
	ExternalUserID string
	AccountID      string
	BoardID        *string
	TaskType       string
	Schedule       ScheduleInput
	Data           map[string]any
}

// JobStatus is the read model for the status endpoint: the job plus its
// most recent attempt history.
type JobStatus struct {
	Job  *domain.Job
	Logs []*domain.JobLog
}

const recentLogsLimit = 20

type JobUsecase struct {
	registry  *scheduler.HandlerRegistry
	submitter *scheduler.Submitter
	jobs      repository.JobStore
	logs      repository.LogStore
}

func NewJobUsecase(
	registry *scheduler.HandlerRegistry,
	submitter *scheduler.Submitter,
	jobs repository.JobStore,
	logs repository.LogStore,
) *JobUsecase {
	return &JobUsecase{registry: registry, submitter: submitter, jobs: jobs, logs: logs}
}

// CreateJob resolves the (app_name, task_type) handler, then dispatches to
// the submission primitive matching the request's schedule type. Returns
// domain.ErrHandlerNotFound for an unregistered pair (404 at the handler)
// and ErrInvalidSchedule for a malformed schedule (400).
func (u *JobUsecase) CreateJob(ctx context.Context, in CreateJobInput) (*domain.Job, error) {
	handlerCfg, err := u.registry.Lookup(in.AppName, in.TaskType)
	if err != nil {
		return nil, err
	}

	cfg := scheduler.SubmitConfig{
		AppName:          in.AppName,
		ExternalUserID:   in.ExternalUserID,
		AccountID:        in.AccountID,
		BoardID:          in.BoardID,
		TaskType:         in.TaskType,
		CallbackURL:      handlerCfg.CallbackURL,
		MaxRetries:       handlerCfg.MaxRetries,
		RetryBackoffBase: handlerCfg.RetryBackoffBase,
	}

	switch in.Schedule.Type {
	case string(domain.ScheduleImmediate):
		return u.submitter.RunImmediate(ctx, cfg, in.Data)

	case string(domain.ScheduleRunAt):
		if in.Schedule.RunAt == nil {
			return nil, fmt.Errorf("%w: run_at requires a timestamp", ErrInvalidSchedule)
		}
		return u.submitter.RunAt(ctx, cfg, in.Data, *in.Schedule.RunAt)

	case string(domain.ScheduleDelayFromNow):
		if in.Schedule.DelaySeconds < 0 {
			return nil, fmt.Errorf("%w: delay_from_now requires a non-negative delay_seconds", ErrInvalidSchedule)
		}
		return u.submitter.RunAfterDelay(ctx, cfg, in.Data, time.Duration(in.Schedule.DelaySeconds)*time.Second)

	case string(domain.ScheduleCron):
		if in.Schedule.Cron == "" {
			return nil, fmt.Errorf("%w: cron requires a cron expression", ErrInvalidSchedule)
		}
		return u.submitter.RunCron(ctx, cfg, in.Data, in.Schedule.Cron)

	case string(domain.SchedulePolling):
		if in.Schedule.PollingIntervalSeconds <= 0 {
			return nil, fmt.Errorf("%w: polling requires a positive polling_interval_seconds", ErrInvalidSchedule)
		}
		return u.submitter.RunPolling(ctx, cfg, in.Data, time.Duration(in.Schedule.PollingIntervalSeconds)*time.Second)

	default:
		return nil, fmt.Errorf("%w: unknown schedule type %q", ErrInvalidSchedule, in.Schedule.Type)
	}
}

// GetJobStatus loads a job and its most recent attempt history, newest
// first, capped at recentLogsLimit — matching the ingress status endpoint's
// contract.
func (u *JobUsecase) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := u.jobs.LoadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	logs, err := u.logs.ListRecentLogs(ctx, jobID, recentLogsLimit)
	if err != nil {
		return nil, fmt.Errorf("list recent logs: %w", err)
	}

	return &JobStatus{Job: job, Logs: logs}, nil
}
