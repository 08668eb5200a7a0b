package server

import (
	"context"

	"webagent/internal/core/job"
	"webagent/internal/health"
	"webagent/internal/metrics"
	"webagent/internal/platform/redis"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// JobSubmitter validates and enqueues one job. Satisfied by the scheduler.
type JobSubmitter interface {
	Submit(ctx context.Context, spec job.Spec) (string, error)
}

type Dependencies struct {
	Jobs       *job.Service
	Sched      JobSubmitter
	Redis      *redis.Service
	LLMBaseURL string
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	healthHandler := health.NewHealthHandler(d.Redis, d.LLMBaseURL)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/v1")

	jobHandler := NewJobHandler(d.Jobs, d.Sched)
	api.Post("/jobs", jobHandler.HandleCreateJob)
	api.Get("/jobs/:jobId", jobHandler.HandleGetJob)

	return healthHandler
}
