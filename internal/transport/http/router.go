package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/relayhook/dispatcher/internal/transport/http/handler"
	"github.com/relayhook/dispatcher/internal/transport/http/middleware"
)

// NewRouter wires the ingress API. Every /api route requires
// X-Internal-Secret — internalSecret disables the check when empty.
func NewRouter(logger *slog.Logger, jobHandler *handler.JobHandler, internalSecret string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	api := r.Group("/api", middleware.InternalSecret(internalSecret))
	api.POST("/jobs/create", jobHandler.Create)
	api.GET("/jobs/:id/status", jobHandler.GetStatus)

	return r
}
