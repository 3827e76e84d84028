package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/relayhook/dispatcher/internal/callback"
	"github.com/relayhook/dispatcher/internal/domain"
	"github.com/relayhook/dispatcher/internal/metrics"
)

// handleCallbackFailure classifies the callback error, logs, publishes, and
// either schedules a retry with an exponential countdown or finalizes the
// job as failed.
func (e *Engine) handleCallbackFailure(ctx context.Context, job *domain.Job, attemptNumber int, err error) {
	transient := callback.IsTransient(err)
	errType := domain.ErrorPermanent
	if transient {
		errType = domain.ErrorTransient
	}
	e.fail(ctx, job, attemptNumber, err, errType, "failure", transient)
}

// handleGenericFailure is identical to handleCallbackFailure except the
// error is always treated as transient and the log key uses the "exception"
// suffix rather than "failure".
func (e *Engine) handleGenericFailure(ctx context.Context, job *domain.Job, attemptNumber int, err error) {
	e.fail(ctx, job, attemptNumber, err, domain.ErrorTransient, "exception", true)
}

func (e *Engine) fail(ctx context.Context, job *domain.Job, attemptNumber int, err error, errType domain.ErrorType, keySuffix string, transient bool) {
	logger := e.logger.With("job_id", job.ID, "attempt_number", attemptNumber)

	key := fmt.Sprintf("%s::%s::%d", job.ID, keySuffix, attemptNumber)
	metadata := map[string]any{"message": err.Error()}
	if code, ok := httpStatusCode(err); ok {
		metadata["status_code"] = code
	} else {
		metadata["status_code"] = nil
	}

	if logErr := e.insertLog(ctx, job.ID, domain.EventExecutionFailed, key, &attemptNumber, &errType, metadata); logErr != nil {
		logger.ErrorContext(ctx, "failed to write failure log", "error", logErr)
	}
	e.publish(job.ID, job.Status, domain.EventExecutionFailed, metadata)

	maxRetries := job.MaxRetries()
	if transient && attemptNumber <= maxRetries {
		countdown := backoffSeconds(job.RetryBackoffBase(), attemptNumber)
		if err := e.queue.Submit(ctx, job.ID, secondsToDuration(countdown), attemptNumber+1); err != nil {
			logger.ErrorContext(ctx, "failed to submit retry", "error", err)
		}
		return
	}

	if statusErr := e.updateStatus(ctx, job.ID, domain.StatusFailed); statusErr != nil {
		logger.ErrorContext(ctx, "failed to transition to failed", "error", statusErr)
		return
	}
	e.publish(job.ID, domain.StatusFailed, domain.EventExecutionFailed, metadata)
	metrics.JobsCompletedTotal.WithLabelValues("failed").Inc()
	e.notifyFailure(ctx, job, err)
}

// httpStatusCode extracts the worker's response status if err is (or wraps)
// a *callback.HTTPError.
func httpStatusCode(err error) (int, bool) {
	var httpErr *callback.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	return 0, false
}

// backoffSeconds computes min(base*2^(n-1), 3600). The exponent is capped
// well before it could overflow — by n=21 the value is already far past the
// 3600s ceiling.
func backoffSeconds(base, attemptNumber int) int {
	exp := attemptNumber - 1
	if exp < 0 {
		exp = 0
	}
	if exp > 20 {
		exp = 20
	}
	countdown := base * (1 << uint(exp))
	if countdown > 3600 || countdown < 0 {
		return 3600
	}
	return countdown
}

// notifyFailure is best-effort: a notification error must never affect the
// job's terminal state.
func (e *Engine) notifyFailure(ctx context.Context, job *domain.Job, cause error) {
	if e.notifier == nil {
		return
	}
	if _, ok := job.Payload["notify_email"]; !ok {
		return
	}
	if err := e.notifier.NotifyJobFailed(ctx, job, cause.Error()); err != nil {
		e.logger.ErrorContext(ctx, "failed to send failure notification", "job_id", job.ID, "error", err)
	}
}
