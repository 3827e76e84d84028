package engine_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/relayhook/dispatcher/internal/callback"
	"github.com/relayhook/dispatcher/internal/domain"
	"github.com/relayhook/dispatcher/internal/engine"
	"github.com/relayhook/dispatcher/internal/publisher"
	"github.com/relayhook/dispatcher/internal/ratelimit"
	"github.com/relayhook/dispatcher/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeJobs struct {
	job    *domain.Job
	fields []repository.JobFields
}

func (f *fakeJobs) CreateJob(context.Context, *domain.Job) (*domain.Job, error) { return f.job, nil }
func (f *fakeJobs) LoadJob(context.Context, string) (*domain.Job, error) {
	if f.job == nil {
		return nil, domain.ErrJobNotFound
	}
	return f.job, nil
}
func (f *fakeJobs) UpdateJobFields(_ context.Context, _ string, fields repository.JobFields) error {
	f.fields = append(f.fields, fields)
	if fields.Status != nil {
		f.job.Status = *fields.Status
	}
	if fields.PollingState != nil {
		f.job.PollingState = fields.PollingState
	}
	return nil
}
type fakeLogs struct {
	inserted []*domain.JobLog
	seen     map[string]bool
}

func newFakeLogs() *fakeLogs { return &fakeLogs{seen: map[string]bool{}} }

func (f *fakeLogs) InsertLogIfAbsent(_ context.Context, log *domain.JobLog) (*domain.JobLog, bool, error) {
	if f.seen[log.IdempotencyKey] {
		return log, false, nil
	}
	f.seen[log.IdempotencyKey] = true
	f.inserted = append(f.inserted, log)
	return log, true, nil
}
func (f *fakeLogs) ListRecentLogs(context.Context, string, int) ([]*domain.JobLog, error) {
	return f.inserted, nil
}

func (f *fakeLogs) hasKey(key string) bool { return f.seen[key] }

type fakeLimiter struct {
	result ratelimit.Result
	err    error
}

func (f *fakeLimiter) Check(context.Context, string) (ratelimit.Result, error) {
	return f.result, f.err
}

type fakeCaller struct {
	resp *callback.Response
	err  error
	got  callback.Body
}

func (f *fakeCaller) Call(_ context.Context, _ string, body callback.Body) (*callback.Response, error) {
	f.got = body
	return f.resp, f.err
}

type fakeQueue struct {
	submissions []submission
}

type submission struct {
	jobID         string
	delay         time.Duration
	attemptNumber int
}

func (q *fakeQueue) Submit(_ context.Context, jobID string, delay time.Duration, attemptNumber int) error {
	q.submissions = append(q.submissions, submission{jobID, delay, attemptNumber})
	return nil
}

func newJob(status domain.Status, scheduleType domain.ScheduleType) *domain.Job {
	return &domain.Job{
		ID:           "job-1",
		AccountID:    "acct-1",
		Status:       status,
		ScheduleType: scheduleType,
		Payload: map[string]any{
			"callback_url":       "http://worker/callback",
			"max_retries":        3,
			"retry_backoff_base": 60,
		},
	}
}

func TestRun_SkipsNonRunnableStatus(t *testing.T) {
	jobs := &fakeJobs{job: newJob(domain.StatusCompleted, domain.ScheduleImmediate)}
	logs := newFakeLogs()
	q := &fakeQueue{}
	e := engine.New(jobs, logs, &fakeLimiter{result: ratelimit.Result{Allowed: true}}, &fakeCaller{}, publisher.New(), q, nil, testLogger())

	e.Run(context.Background(), "job-1", 1)

	if len(logs.inserted) != 0 {
		t.Errorf("expected no logs for a terminal job, got %d", len(logs.inserted))
	}
}

func TestRun_SuccessFinalizesCompleted(t *testing.T) {
	jobs := &fakeJobs{job: newJob(domain.StatusQueued, domain.ScheduleImmediate)}
	logs := newFakeLogs()
	q := &fakeQueue{}
	caller := &fakeCaller{resp: &callback.Response{StatusCode: 200, Raw: []byte("{}")}}
	e := engine.New(jobs, logs, &fakeLimiter{result: ratelimit.Result{Allowed: true}}, caller, publisher.New(), q, nil, testLogger())

	e.Run(context.Background(), "job-1", 1)

	if jobs.job.Status != domain.StatusCompleted {
		t.Errorf("status = %v, want completed", jobs.job.Status)
	}
	if !logs.hasKey("job-1::started::1") || !logs.hasKey("job-1::completed::1") {
		t.Errorf("missing expected log keys: %+v", logs.inserted)
	}
}

func TestRun_CronSuccessReparksToQueued(t *testing.T) {
	jobs := &fakeJobs{job: newJob(domain.StatusQueued, domain.ScheduleCron)}
	logs := newFakeLogs()
	q := &fakeQueue{}
	caller := &fakeCaller{resp: &callback.Response{StatusCode: 200, Raw: []byte("{}")}}
	e := engine.New(jobs, logs, &fakeLimiter{result: ratelimit.Result{Allowed: true}}, caller, publisher.New(), q, nil, testLogger())

	e.Run(context.Background(), "job-1", 1)

	if jobs.job.Status != domain.StatusQueued {
		t.Errorf("status = %v, want queued (re-parked for cron driver)", jobs.job.Status)
	}
}

func TestRun_RateLimited_RequeuesSameAttemptNumber(t *testing.T) {
	jobs := &fakeJobs{job: newJob(domain.StatusQueued, domain.ScheduleImmediate)}
	logs := newFakeLogs()
	q := &fakeQueue{}
	e := engine.New(jobs, logs, &fakeLimiter{result: ratelimit.Result{Allowed: false, RetryAfterSeconds: 42}}, &fakeCaller{}, publisher.New(), q, nil, testLogger())

	e.Run(context.Background(), "job-1", 2)

	if jobs.job.Status != domain.StatusPausedRateLimited {
		t.Errorf("status = %v, want paused_rate_limited", jobs.job.Status)
	}
	if len(q.submissions) != 1 || q.submissions[0].attemptNumber != 2 {
		t.Fatalf("unexpected submissions: %+v", q.submissions)
	}
	if q.submissions[0].delay != 42*time.Second {
		t.Errorf("delay = %v, want 42s", q.submissions[0].delay)
	}
	if !logs.hasKey("job-1::rate_limit::2") {
		t.Errorf("missing rate_limit log: %+v", logs.inserted)
	}
}

func TestRun_ResumesFromRateLimitedPause(t *testing.T) {
	jobs := &fakeJobs{job: newJob(domain.StatusPausedRateLimited, domain.ScheduleImmediate)}
	logs := newFakeLogs()
	q := &fakeQueue{}
	caller := &fakeCaller{resp: &callback.Response{StatusCode: 200, Raw: []byte("{}")}}
	e := engine.New(jobs, logs, &fakeLimiter{result: ratelimit.Result{Allowed: true}}, caller, publisher.New(), q, nil, testLogger())

	e.Run(context.Background(), "job-1", 1)

	if jobs.job.Status != domain.StatusCompleted {
		t.Errorf("status = %v, want completed once the pause's own requeue delivers", jobs.job.Status)
	}
	if !logs.hasKey("job-1::started::1") || !logs.hasKey("job-1::completed::1") {
		t.Errorf("missing expected log keys: %+v", logs.inserted)
	}
}

func TestRun_TransientFailure_RetriesWithBackoff(t *testing.T) {
	jobs := &fakeJobs{job: newJob(domain.StatusQueued, domain.ScheduleImmediate)}
	logs := newFakeLogs()
	q := &fakeQueue{}
	caller := &fakeCaller{err: &callback.HTTPError{StatusCode: 503}}
	e := engine.New(jobs, logs, &fakeLimiter{result: ratelimit.Result{Allowed: true}}, caller, publisher.New(), q, nil, testLogger())

	e.Run(context.Background(), "job-1", 1)

	if jobs.job.Status != domain.StatusRunning {
		t.Errorf("status = %v, want still running while a retry is pending", jobs.job.Status)
	}
	if len(q.submissions) != 1 || q.submissions[0].attemptNumber != 2 {
		t.Fatalf("unexpected submissions: %+v", q.submissions)
	}
	if q.submissions[0].delay != 60*time.Second {
		t.Errorf("delay = %v, want 60s (base * 2^0)", q.submissions[0].delay)
	}
	if !logs.hasKey("job-1::failure::1") {
		t.Errorf("missing failure log: %+v", logs.inserted)
	}
}

func TestRun_PermanentFailure_FailsImmediately(t *testing.T) {
	jobs := &fakeJobs{job: newJob(domain.StatusQueued, domain.ScheduleImmediate)}
	logs := newFakeLogs()
	q := &fakeQueue{}
	caller := &fakeCaller{err: &callback.HTTPError{StatusCode: 400}}
	e := engine.New(jobs, logs, &fakeLimiter{result: ratelimit.Result{Allowed: true}}, caller, publisher.New(), q, nil, testLogger())

	e.Run(context.Background(), "job-1", 1)

	if jobs.job.Status != domain.StatusFailed {
		t.Errorf("status = %v, want failed", jobs.job.Status)
	}
	if len(q.submissions) != 0 {
		t.Errorf("expected no retry submission for a permanent failure, got %+v", q.submissions)
	}
}

func TestRun_TransientFailure_ExhaustedRetriesFails(t *testing.T) {
	jobs := &fakeJobs{job: newJob(domain.StatusQueued, domain.ScheduleImmediate)}
	logs := newFakeLogs()
	q := &fakeQueue{}
	caller := &fakeCaller{err: &callback.HTTPError{StatusCode: 503}}
	e := engine.New(jobs, logs, &fakeLimiter{result: ratelimit.Result{Allowed: true}}, caller, publisher.New(), q, nil, testLogger())

	e.Run(context.Background(), "job-1", 4) // max_retries is 3

	if jobs.job.Status != domain.StatusFailed {
		t.Errorf("status = %v, want failed once attempt_number exceeds max_retries", jobs.job.Status)
	}
	if len(q.submissions) != 0 {
		t.Errorf("expected no further retry, got %+v", q.submissions)
	}
}

func TestRun_TransportFailure_IsAlwaysTransient(t *testing.T) {
	jobs := &fakeJobs{job: newJob(domain.StatusQueued, domain.ScheduleImmediate)}
	logs := newFakeLogs()
	q := &fakeQueue{}
	caller := &fakeCaller{err: &callback.TransportError{Err: context.DeadlineExceeded}}
	e := engine.New(jobs, logs, &fakeLimiter{result: ratelimit.Result{Allowed: true}}, caller, publisher.New(), q, nil, testLogger())

	e.Run(context.Background(), "job-1", 1)

	if len(q.submissions) != 1 {
		t.Fatalf("expected a retry submission for a transport error, got %+v", q.submissions)
	}
}

func TestRun_EmptyCallbackURL_TreatedAsImmediateSuccess(t *testing.T) {
	job := newJob(domain.StatusQueued, domain.ScheduleImmediate)
	job.Payload["callback_url"] = ""
	jobs := &fakeJobs{job: job}
	logs := newFakeLogs()
	q := &fakeQueue{}
	caller := &fakeCaller{}
	e := engine.New(jobs, logs, &fakeLimiter{result: ratelimit.Result{Allowed: true}}, caller, publisher.New(), q, nil, testLogger())

	e.Run(context.Background(), "job-1", 1)

	if jobs.job.Status != domain.StatusCompleted {
		t.Errorf("status = %v, want completed", jobs.job.Status)
	}
	if caller.got.IdempotencyKey != "" {
		t.Errorf("caller should not have been invoked, got body %+v", caller.got)
	}
}

func TestRun_PollingNotDone_ResetsAttemptNumberToOne(t *testing.T) {
	job := newJob(domain.StatusQueued, domain.SchedulePolling)
	interval := 30
	job.PollingIntervalSeconds = &interval
	jobs := &fakeJobs{job: job}
	logs := newFakeLogs()
	q := &fakeQueue{}
	caller := &fakeCaller{resp: &callback.Response{StatusCode: 200, Raw: []byte(`{"done": false, "polling_state": {"cursor": "abc"}}`)}}
	e := engine.New(jobs, logs, &fakeLimiter{result: ratelimit.Result{Allowed: true}}, caller, publisher.New(), q, nil, testLogger())

	e.Run(context.Background(), "job-1", 3)

	if jobs.job.Status != domain.StatusQueued {
		t.Errorf("status = %v, want queued", jobs.job.Status)
	}
	if jobs.job.PollingState["cursor"] != "abc" {
		t.Errorf("polling state not persisted: %+v", jobs.job.PollingState)
	}
	if len(q.submissions) != 1 || q.submissions[0].attemptNumber != 1 {
		t.Fatalf("expected resubmission with attempt_number reset to 1, got %+v", q.submissions)
	}
	if q.submissions[0].delay != 30*time.Second {
		t.Errorf("delay = %v, want 30s polling interval", q.submissions[0].delay)
	}
}

func TestRun_PollingDone_FinalizesCompleted(t *testing.T) {
	job := newJob(domain.StatusQueued, domain.SchedulePolling)
	jobs := &fakeJobs{job: job}
	logs := newFakeLogs()
	q := &fakeQueue{}
	caller := &fakeCaller{resp: &callback.Response{StatusCode: 200, Raw: []byte(`{"done": true}`)}}
	e := engine.New(jobs, logs, &fakeLimiter{result: ratelimit.Result{Allowed: true}}, caller, publisher.New(), q, nil, testLogger())

	e.Run(context.Background(), "job-1", 2)

	if jobs.job.Status != domain.StatusCompleted {
		t.Errorf("status = %v, want completed", jobs.job.Status)
	}
	if len(q.submissions) != 0 {
		t.Errorf("a finished polling job should not resubmit, got %+v", q.submissions)
	}
}

type fakeNotifier struct {
	called bool
	reason string
}

func (n *fakeNotifier) NotifyJobFailed(_ context.Context, _ *domain.Job, reason string) error {
	n.called = true
	n.reason = reason
	return nil
}

func TestRun_TerminalFailure_NotifiesWhenConfigured(t *testing.T) {
	job := newJob(domain.StatusQueued, domain.ScheduleImmediate)
	job.Payload["notify_email"] = "ops@example.com"
	jobs := &fakeJobs{job: job}
	logs := newFakeLogs()
	q := &fakeQueue{}
	caller := &fakeCaller{err: &callback.HTTPError{StatusCode: 400}}
	notifier := &fakeNotifier{}
	e := engine.New(jobs, logs, &fakeLimiter{result: ratelimit.Result{Allowed: true}}, caller, publisher.New(), q, notifier, testLogger())

	e.Run(context.Background(), "job-1", 1)

	if !notifier.called {
		t.Error("expected notifier to be invoked on terminal failure")
	}
}

func TestRun_RetryingFailure_DoesNotNotify(t *testing.T) {
	job := newJob(domain.StatusQueued, domain.ScheduleImmediate)
	job.Payload["notify_email"] = "ops@example.com"
	jobs := &fakeJobs{job: job}
	logs := newFakeLogs()
	q := &fakeQueue{}
	caller := &fakeCaller{err: &callback.HTTPError{StatusCode: 503}}
	notifier := &fakeNotifier{}
	e := engine.New(jobs, logs, &fakeLimiter{result: ratelimit.Result{Allowed: true}}, caller, publisher.New(), q, notifier, testLogger())

	e.Run(context.Background(), "job-1", 1)

	if notifier.called {
		t.Error("notifier should not fire while a retry is still scheduled")
	}
}
