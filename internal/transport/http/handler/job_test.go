package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relayhook/dispatcher/internal/domain"
	"github.com/relayhook/dispatcher/internal/repository"
	"github.com/relayhook/dispatcher/internal/scheduler"
	"github.com/relayhook/dispatcher/internal/transport/http/handler"
	"github.com/relayhook/dispatcher/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeUsers struct{}

func (fakeUsers) GetOrCreateUser(_ context.Context, appName, externalUserID string) (*domain.AppUser, error) {
	return &domain.AppUser{ID: "user-1", AppName: appName, ExternalUserID: externalUserID}, nil
}

type fakeJobs struct {
	job *domain.Job
}

func (f *fakeJobs) CreateJob(_ context.Context, job *domain.Job) (*domain.Job, error) {
	job.ID = "job-1"
	job.CreatedAt = time.Unix(0, 0).UTC()
	f.job = job
	return job, nil
}
func (f *fakeJobs) LoadJob(_ context.Context, id string) (*domain.Job, error) {
	if f.job == nil || f.job.ID != id {
		return nil, domain.ErrJobNotFound
	}
	return f.job, nil
}
func (f *fakeJobs) UpdateJobFields(context.Context, string, repository.JobFields) error { return nil }

type fakeLogs struct{ entries []*domain.JobLog }

func (f *fakeLogs) InsertLogIfAbsent(_ context.Context, log *domain.JobLog) (*domain.JobLog, bool, error) {
	f.entries = append(f.entries, log)
	return log, true, nil
}
func (f *fakeLogs) ListRecentLogs(context.Context, string, int) ([]*domain.JobLog, error) {
	return f.entries, nil
}

type fakeQueue struct{}

func (fakeQueue) Submit(context.Context, string, time.Duration, int) error { return nil }

func newHandler() *handler.JobHandler {
	registry := scheduler.NewHandlerRegistry()
	registry.Register("app_a", "bulk_excel_insert", scheduler.HandlerConfig{
		CallbackURL: "http://worker/callback", MaxRetries: 3, RetryBackoffBase: 60,
	})
	jobs := &fakeJobs{}
	logs := &fakeLogs{}
	submitter := scheduler.NewSubmitter(fakeUsers{}, jobs, fakeQueue{})
	u := usecase.NewJobUsecase(registry, submitter, jobs, logs)
	return handler.NewJobHandler(u, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreate_ValidImmediateJob_Returns201(t *testing.T) {
	h := newHandler()
	r := gin.New()
	r.POST("/api/jobs/create", h.Create)

	body := `{"app_name":"app_a","user_id":"ext-1","account_id":"acct-1","task_type":"bulk_excel_insert","schedule":{"type":"immediate"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/create", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] == "" {
		t.Error("expected non-empty id")
	}
}

func TestCreate_UnregisteredHandler_Returns404(t *testing.T) {
	h := newHandler()
	r := gin.New()
	r.POST("/api/jobs/create", h.Create)

	body := `{"app_name":"app_a","user_id":"ext-1","account_id":"acct-1","task_type":"unknown","schedule":{"type":"immediate"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/create", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestCreate_DelayFromNowZeroSeconds_Returns201(t *testing.T) {
	h := newHandler()
	r := gin.New()
	r.POST("/api/jobs/create", h.Create)

	body := `{"app_name":"app_a","user_id":"ext-1","account_id":"acct-1","task_type":"bulk_excel_insert","schedule":{"type":"delay_from_now","delay_seconds":0}}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/create", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestCreate_NegativeDelaySeconds_Returns400(t *testing.T) {
	h := newHandler()
	r := gin.New()
	r.POST("/api/jobs/create", h.Create)

	body := `{"app_name":"app_a","user_id":"ext-1","account_id":"acct-1","task_type":"bulk_excel_insert","schedule":{"type":"delay_from_now","delay_seconds":-10}}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/create", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestCreate_MissingRequiredField_Returns400(t *testing.T) {
	h := newHandler()
	r := gin.New()
	r.POST("/api/jobs/create", h.Create)

	body := `{"app_name":"app_a","task_type":"bulk_excel_insert","schedule":{"type":"immediate"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/create", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestCreate_RunAtWithoutTimestamp_Returns400(t *testing.T) {
	h := newHandler()
	r := gin.New()
	r.POST("/api/jobs/create", h.Create)

	body := `{"app_name":"app_a","user_id":"ext-1","account_id":"acct-1","task_type":"bulk_excel_insert","schedule":{"type":"run_at"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/create", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestGetStatus_UnknownJob_Returns404(t *testing.T) {
	h := newHandler()
	r := gin.New()
	r.GET("/api/jobs/:id/status", h.GetStatus)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/missing/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestGetStatus_KnownJob_ReturnsStatusAndLogs(t *testing.T) {
	h := newHandler()
	r := gin.New()
	createR := gin.New()
	createR.POST("/api/jobs/create", h.Create)
	r.GET("/api/jobs/:id/status", h.GetStatus)

	createReq := httptest.NewRequest(http.MethodPost, "/api/jobs/create", bytes.NewBufferString(
		`{"app_name":"app_a","user_id":"ext-1","account_id":"acct-1","task_type":"bulk_excel_insert","schedule":{"type":"immediate"}}`))
	createReq.Header.Set("Content-Type", "application/json")
	createW := httptest.NewRecorder()
	createR.ServeHTTP(createW, createReq)

	var created map[string]string
	json.Unmarshal(createW.Body.Bytes(), &created)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+created["id"]+"/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "queued" {
		t.Errorf("status field = %v, want queued", resp["status"])
	}
}
