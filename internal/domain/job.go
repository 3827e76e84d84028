package domain

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrHandlerNotFound = errors.New("no handler registered for app_name/task_type")
	ErrInvalidCron     = errors.New("invalid cron expression")
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusQueued            Status = "queued"
	StatusRunning           Status = "running"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusPausedRateLimited Status = "paused_rate_limited"
)

type ScheduleType string

const (
	ScheduleImmediate    ScheduleType = "immediate"
	ScheduleRunAt        ScheduleType = "run_at"
	ScheduleCron         ScheduleType = "cron"
	ScheduleDelayFromNow ScheduleType = "delay_from_now"
	SchedulePolling      ScheduleType = "polling"
)

// AppUser is a tenant-scoped user identity: (app_name, external_user_id) is unique.
type AppUser struct {
	ID             string
	AppName        string
	ExternalUserID string
	CreatedAt      time.Time
}

// Job is a scheduled unit of work. Payload and PollingState are opaque JSON —
// the store never interprets their contents, only round-trips them.
type Job struct {
	ID        string
	AppName   string
	UserID    string
	AccountID string
	BoardID   *string
	TaskType  string

	Status       Status
	ScheduleType ScheduleType

	ScheduledAt            *time.Time
	CronExpression         *string
	PollingIntervalSeconds *int
	PollingState           map[string]any

	// Payload carries callback_url, max_retries, retry_backoff_base, and the
	// caller's data, merged at submission time (see scheduler.Submitter).
	Payload map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CallbackURL extracts payload["callback_url"], empty string if absent.
func (j *Job) CallbackURL() string {
	v, _ := j.Payload["callback_url"].(string)
	return v
}

// MaxRetries extracts payload["max_retries"], defaulting to 3.
func (j *Job) MaxRetries() int {
	switch v := j.Payload["max_retries"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 3
	}
}

// RetryBackoffBase extracts payload["retry_backoff_base"] in seconds, defaulting to 60.
func (j *Job) RetryBackoffBase() int {
	switch v := j.Payload["retry_backoff_base"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 60
	}
}

type ErrorType string

const (
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
)

const (
	EventExecutionStarted   = "execution_started"
	EventRateLimited        = "rate_limited"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
)

// JobLog is an append-only per-attempt event. IdempotencyKey is globally
// unique; InsertLogIfAbsent is the only write path.
type JobLog struct {
	ID             string
	JobID          string
	EventType      string
	AttemptNumber  *int
	IdempotencyKey string
	ErrorType      *ErrorType
	Metadata       map[string]any
	CreatedAt      time.Time
}
