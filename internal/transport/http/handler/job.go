package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relayhook/dispatcher/internal/domain"
	"github.com/relayhook/dispatcher/internal/usecase"
)

type JobHandler struct {
	jobUsecase *usecase.JobUsecase
	logger     *slog.Logger
}

func NewJobHandler(jobUsecase *usecase.JobUsecase, logger *slog.Logger) *JobHandler {
	return &JobHandler{jobUsecase: jobUsecase, logger: logger.With("component", "job_handler")}
}

type scheduleRequest struct {
	Type                   string     `json:"type" binding:"required,oneof=immediate run_at delay_from_now cron polling"`
	RunAt                  *time.Time `json:"run_at"`
	Cron                   string     `json:"cron"`
	DelaySeconds           int        `json:"delay_seconds"`
	PollingIntervalSeconds int        `json:"polling_interval_seconds"`
}

type createJobRequest struct {
	AppName   string          `json:"app_name"   binding:"required"`
	UserID    string          `json:"user_id"    binding:"required"`
	AccountID string          `json:"account_id" binding:"required"`
	BoardID   *string         `json:"board_id"`
	TaskType  string          `json:"task_type"  binding:"required"`
	Schedule  scheduleRequest `json:"schedule"   binding:"required"`
	Data      map[string]any  `json:"data"`
}

// Create handles POST /api/jobs/create.
func (h *JobHandler) Create(ctx *gin.Context) {
	var req createJobRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"errors": []string{err.Error()}})
		return
	}

	job, err := h.jobUsecase.CreateJob(ctx.Request.Context(), usecase.CreateJobInput{
		AppName:        req.AppName,
		ExternalUserID: req.UserID,
		AccountID:      req.AccountID,
		BoardID:        req.BoardID,
		TaskType:       req.TaskType,
		Schedule: usecase.ScheduleInput{
			Type:                   req.Schedule.Type,
			RunAt:                  req.Schedule.RunAt,
			Cron:                   req.Schedule.Cron,
			DelaySeconds:           req.Schedule.DelaySeconds,
			PollingIntervalSeconds: req.Schedule.PollingIntervalSeconds,
		},
		Data: req.Data,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrHandlerNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errHandlerNotFound})
		case errors.Is(err, usecase.ErrInvalidSchedule), errors.Is(err, domain.ErrInvalidCron):
			ctx.JSON(http.StatusBadRequest, gin.H{"errors": []string{err.Error()}})
		default:
			h.logger.Error("create job", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"id": job.ID})
}

type jobLogResponse struct {
	EventType     string            `json:"event_type"`
	AttemptNumber *int              `json:"attempt_number,omitempty"`
	ErrorType     *domain.ErrorType `json:"error_type,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

type jobStatusResponse struct {
	JobID       string           `json:"job_id"`
	Status      domain.Status    `json:"status"`
	TaskType    string           `json:"task_type"`
	CreatedAt   time.Time        `json:"created_at"`
	ScheduledAt *time.Time       `json:"scheduled_at,omitempty"`
	Logs        []jobLogResponse `json:"logs"`
}

// GetStatus handles GET /api/jobs/:id/status.
func (h *JobHandler) GetStatus(ctx *gin.Context) {
	jobID := ctx.Param("id")

	status, err := h.jobUsecase.GetJobStatus(ctx.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
			return
		}
		h.logger.Error("get job status", "job_id", jobID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	logs := make([]jobLogResponse, 0, len(status.Logs))
	for _, l := range status.Logs {
		logs = append(logs, jobLogResponse{
			EventType:     l.EventType,
			AttemptNumber: l.AttemptNumber,
			ErrorType:     l.ErrorType,
			Metadata:      l.Metadata,
			CreatedAt:     l.CreatedAt,
		})
	}

	ctx.JSON(http.StatusOK, jobStatusResponse{
		JobID:       status.Job.ID,
		Status:      status.Job.Status,
		TaskType:    status.Job.TaskType,
		CreatedAt:   status.Job.CreatedAt,
		ScheduledAt: status.Job.ScheduledAt,
		Logs:        logs,
	})
}
