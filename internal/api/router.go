package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/upnorthmedia/content-pipeline/internal/http/middleware"
	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
)

// NewRouter wires the Approval API's routes (§4.K), adapted from the
// teacher's internal/http.NewRouter: an otelgin span + request-context +
// request-log + CORS middleware stack, the five pipeline control
// endpoints, the queue supplementary endpoints, and a bare health check.
// jwtSecret/adminTokenHash configure the optional admin auth middleware
// (empty adminTokenHash disables it); the health check is always public.
func NewRouter(h *Handler, log *logger.Logger, jwtSecret, adminTokenHash string) *gin.Engine {
	r := gin.Default()
	r.Use(otelgin.Middleware("content-pipeline"))
	r.Use(middleware.AttachTraceContext())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS())

	r.GET("/healthcheck", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(middleware.AdminAuth(jwtSecret, adminTokenHash, log))
	{
		posts := api.Group("/posts/:id")
		posts.POST("/start", h.StartPipeline)
		posts.POST("/run-all", h.RunAll)
		posts.POST("/rerun/:stage", h.RerunStage)
		posts.POST("/approve", h.Approve)
		posts.POST("/pause", h.Pause)

		queue := api.Group("/queue")
		queue.GET("", h.QueueStatus)
		queue.GET("/dead-letter", h.ListDeadLetter)
		queue.POST("/dead-letter/:post_id/retry", h.RetryDeadLetter)
		queue.DELETE("/dead-letter", h.ClearDeadLetter)
	}

	return r
}
