// Package engine implements the execution engine: the per-attempt protocol
// invoked by the delayed queue for every claimed delivery.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/relayhook/dispatcher/internal/callback"
	"github.com/relayhook/dispatcher/internal/domain"
	"github.com/relayhook/dispatcher/internal/metrics"
	"github.com/relayhook/dispatcher/internal/publisher"
	"github.com/relayhook/dispatcher/internal/queue"
	"github.com/relayhook/dispatcher/internal/ratelimit"
	"github.com/relayhook/dispatcher/internal/repository"
)

// Caller is the subset of callback.Client the engine needs — narrowed so
// tests can supply a fake without standing up an HTTP server.
type Caller interface {
	Call(ctx context.Context, url string, body callback.Body) (*callback.Response, error)
}

// Notifier is told about terminal failures so an operator-facing channel
// (email, today) can pick them up. Best-effort: the engine never fails a
// job over a notification error.
type Notifier interface {
	NotifyJobFailed(ctx context.Context, job *domain.Job, reason string) error
}

// Engine wires the Store, Rate Limiter, Callback Client, Status Publisher,
// and Delayed Queue together into the run(job_id, attempt_number) entry
// point the queue.Poller invokes on every claimed delivery.
type Engine struct {
	jobs      repository.JobStore
	logs      repository.LogStore
	limiter   ratelimit.Limiter
	caller    Caller
	publisher *publisher.Publisher
	queue     queue.Queue
	notifier  Notifier
	logger    *slog.Logger
}

func New(
	jobs repository.JobStore,
	logs repository.LogStore,
	limiter ratelimit.Limiter,
	caller Caller,
	pub *publisher.Publisher,
	q queue.Queue,
	notifier Notifier,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		jobs:      jobs,
		logs:      logs,
		limiter:   limiter,
		caller:    caller,
		publisher: pub,
		queue:     q,
		notifier:  notifier,
		logger:    logger.With("component", "engine"),
	}
}

// Run satisfies queue.Runner. It never returns an error: every failure path
// is terminal by itself (a log row, a status write, and possibly a
// resubmission), so nothing propagates back to the queue except the
// deliveries Run itself schedules.
func (e *Engine) Run(ctx context.Context, jobID string, attemptNumber int) {
	job, err := e.jobs.LoadJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			e.logger.WarnContext(ctx, "run invoked for missing job", "job_id", jobID)
			return
		}
		e.logger.ErrorContext(ctx, "load job failed", "job_id", jobID, "error", err)
		return
	}

	switch job.Status {
	case domain.StatusQueued, domain.StatusRunning:
	case domain.StatusPausedRateLimited:
		// A rate-paused job re-enters here via the delivery its own pause
		// scheduled — the auto-requeue edge back into the run loop.
	default:
		e.logger.DebugContext(ctx, "skipping run, job not in a runnable state",
			"job_id", jobID, "status", job.Status)
		return
	}

	startedKey := fmt.Sprintf("%s::started::%d", jobID, attemptNumber)
	if err := e.insertLog(ctx, jobID, domain.EventExecutionStarted, startedKey, &attemptNumber, nil, nil); err != nil {
		e.logger.ErrorContext(ctx, "failed to write started log", "job_id", jobID, "error", err)
	}

	if err := e.updateStatus(ctx, jobID, domain.StatusRunning); err != nil {
		e.logger.ErrorContext(ctx, "failed to transition to running", "job_id", jobID, "error", err)
		return
	}
	job.Status = domain.StatusRunning
	e.publish(jobID, domain.StatusRunning, domain.EventExecutionStarted, nil)

	rc, err := e.limiter.Check(ctx, job.AccountID)
	if err != nil {
		e.handleGenericFailure(ctx, job, attemptNumber, fmt.Errorf("rate limit check: %w", err))
		return
	}
	if !rc.Allowed {
		e.pauseForRateLimit(ctx, job, attemptNumber, rc)
		return
	}

	body := e.buildCallbackBody(job, attemptNumber)
	callbackURL := job.CallbackURL()

	var resp *callback.Response
	if callbackURL == "" {
		resp = &callback.Response{StatusCode: http.StatusOK, Raw: []byte("{}")}
	} else {
		callStart := time.Now()
		resp, err = e.caller.Call(ctx, callbackURL, body)
		if err != nil {
			metrics.CallbackDuration.WithLabelValues("error").Observe(time.Since(callStart).Seconds())
			e.handleCallbackFailure(ctx, job, attemptNumber, err)
			return
		}
		metrics.CallbackDuration.WithLabelValues("ok").Observe(time.Since(callStart).Seconds())
	}

	if job.ScheduleType == domain.SchedulePolling {
		e.interpretPolling(ctx, job, attemptNumber, resp)
		return
	}
	e.finalizeSuccess(ctx, job, attemptNumber)
}

func (e *Engine) buildCallbackBody(job *domain.Job, attemptNumber int) callback.Body {
	body := callback.Body{
		IdempotencyKey: fmt.Sprintf("%s_%d", job.ID, attemptNumber),
		Payload:        job.Payload,
	}
	if job.ScheduleType == domain.SchedulePolling {
		body.JobID = job.ID
		state := job.PollingState
		if state == nil {
			state = map[string]any{}
		}
		body.PollingState = state
	}
	return body
}

type pollingReply struct {
	Done         bool           `json:"done"`
	PollingState map[string]any `json:"polling_state"`
}

func (e *Engine) interpretPolling(ctx context.Context, job *domain.Job, attemptNumber int, resp *callback.Response) {
	var reply pollingReply
	if len(resp.Raw) > 0 {
		if err := json.Unmarshal(resp.Raw, &reply); err != nil {
			e.handleGenericFailure(ctx, job, attemptNumber, fmt.Errorf("decode polling response: %w", err))
			return
		}
	}

	if reply.PollingState != nil {
		job.PollingState = reply.PollingState
	}

	if reply.Done {
		e.finalizeSuccess(ctx, job, attemptNumber)
		return
	}

	if err := e.jobs.UpdateJobFields(ctx, job.ID, repository.JobFields{
		Status:       statusPtr(domain.StatusQueued),
		PollingState: job.PollingState,
	}); err != nil {
		e.logger.ErrorContext(ctx, "failed to persist polling continuation", "job_id", job.ID, "error", err)
		return
	}
	e.publish(job.ID, domain.StatusQueued, "", nil)

	interval := defaultPollingInterval
	if job.PollingIntervalSeconds != nil {
		interval = *job.PollingIntervalSeconds
	}
	// A new logical invocation, not a retry — attempt_number resets to 1.
	if err := e.queue.Submit(ctx, job.ID, secondsToDuration(interval), 1); err != nil {
		e.logger.ErrorContext(ctx, "failed to resubmit polling job", "job_id", job.ID, "error", err)
	}
}

func (e *Engine) finalizeSuccess(ctx context.Context, job *domain.Job, attemptNumber int) {
	completedKey := fmt.Sprintf("%s::completed::%d", job.ID, attemptNumber)
	if err := e.insertLog(ctx, job.ID, domain.EventExecutionCompleted, completedKey, &attemptNumber, nil, nil); err != nil {
		e.logger.ErrorContext(ctx, "failed to write completed log", "job_id", job.ID, "error", err)
	}

	finalStatus := domain.StatusCompleted
	if job.ScheduleType == domain.ScheduleCron {
		// The job recurs — hand it back to the Cron Driver instead of
		// leaving it terminal.
		finalStatus = domain.StatusQueued
	}
	if err := e.updateStatus(ctx, job.ID, finalStatus); err != nil {
		e.logger.ErrorContext(ctx, "failed to finalize job", "job_id", job.ID, "error", err)
		return
	}
	e.publish(job.ID, finalStatus, domain.EventExecutionCompleted, nil)
	metrics.JobsCompletedTotal.WithLabelValues("success").Inc()
}

func (e *Engine) pauseForRateLimit(ctx context.Context, job *domain.Job, attemptNumber int, rc ratelimit.Result) {
	if err := e.updateStatus(ctx, job.ID, domain.StatusPausedRateLimited); err != nil {
		e.logger.ErrorContext(ctx, "failed to transition to paused_rate_limited", "job_id", job.ID, "error", err)
		return
	}
	e.publish(job.ID, domain.StatusPausedRateLimited, domain.EventRateLimited, map[string]any{"wait_seconds": rc.RetryAfterSeconds})
	metrics.RateLimitRefusalsTotal.WithLabelValues(job.AccountID).Inc()

	key := fmt.Sprintf("%s::rate_limit::%d", job.ID, attemptNumber)
	if err := e.insertLog(ctx, job.ID, domain.EventRateLimited, key, &attemptNumber, nil, map[string]any{"wait_seconds": rc.RetryAfterSeconds}); err != nil {
		e.logger.ErrorContext(ctx, "failed to write rate_limited log", "job_id", job.ID, "error", err)
	}

	// Rate-pauses do not consume a retry: the same attempt_number is resubmitted.
	if err := e.queue.Submit(ctx, job.ID, secondsToDuration(rc.RetryAfterSeconds), attemptNumber); err != nil {
		e.logger.ErrorContext(ctx, "failed to resubmit rate-limited job", "job_id", job.ID, "error", err)
	}
}

func (e *Engine) insertLog(ctx context.Context, jobID, eventType, key string, attemptNumber *int, errType *domain.ErrorType, metadata map[string]any) error {
	_, _, err := e.logs.InsertLogIfAbsent(ctx, &domain.JobLog{
		JobID:          jobID,
		EventType:      eventType,
		AttemptNumber:  attemptNumber,
		IdempotencyKey: key,
		ErrorType:      errType,
		Metadata:       metadata,
	})
	return err
}

func (e *Engine) updateStatus(ctx context.Context, jobID string, status domain.Status) error {
	return e.jobs.UpdateJobFields(ctx, jobID, repository.JobFields{Status: statusPtr(status)})
}

func (e *Engine) publish(jobID string, status domain.Status, eventType string, metadata map[string]any) {
	var logEvent *publisher.LogEvent
	if eventType != "" {
		logEvent = &publisher.LogEvent{EventType: eventType, Metadata: metadata}
	}
	e.publisher.Publish(jobID, string(status), logEvent)
}

func statusPtr(s domain.Status) *domain.Status { return &s }

const defaultPollingInterval = 60

func secondsToDuration(seconds int) time.Duration {
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds) * time.Second
}
