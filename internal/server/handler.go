package server

import (
	"errors"

	"webagent/internal/core/job"
	"webagent/internal/core/workflow"
	"webagent/internal/logger"

	"github.com/gofiber/fiber/v2"
)

type createJobRequest struct {
	Queue  string   `json:"queue"`
	Action string   `json:"action"`
	Args   job.Args `json:"args"`
}

type createJobResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type jobStatusResponse struct {
	Success  bool            `json:"success"`
	JobID    string          `json:"job_id"`
	Queue    string          `json:"queue"`
	Action   string          `json:"action"`
	State    job.State       `json:"state"`
	Status   string          `json:"status"`
	Attempts int             `json:"attempts"`
	Errors   []job.StepError `json:"errors,omitempty"`
	Result   map[string]any  `json:"result,omitempty"`
}

type JobHandler struct {
	jobs  *job.Service
	sched JobSubmitter
	log   *logger.Logger
}

func NewJobHandler(jobs *job.Service, sched JobSubmitter) *JobHandler {
	return &JobHandler{jobs: jobs, sched: sched, log: logger.New("JobHandler")}
}

func (h *JobHandler) HandleCreateJob(c *fiber.Ctx) error {
	var req createJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid body"})
	}
	if req.Action == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "action is required"})
	}
	if req.Queue == "" {
		req.Queue = req.Action
	}

	id, err := h.sched.Submit(c.Context(), job.Spec{Queue: req.Queue, Action: req.Action, Args: req.Args})
	if err != nil {
		var ce *workflow.ConfigError
		if errors.As(err, &ce) {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: ce.Error()})
		}
		h.log.LogErrorf("submit %s job: %v", req.Action, err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: err.Error()})
	}
	return c.JSON(createJobResponse{Success: true, JobID: id})
}

func (h *JobHandler) HandleGetJob(c *fiber.Ctx) error {
	id := c.Params("jobId")
	rec, err := h.jobs.Get(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "not_found"})
	}
	return c.JSON(jobStatusResponse{
		Success:  true,
		JobID:    rec.JobID,
		Queue:    rec.Queue,
		Action:   rec.Action,
		State:    rec.State,
		Status:   userStatus(rec),
		Attempts: rec.Attempts,
		Errors:   rec.Errors,
		Result:   rec.Result,
	})
}

// userStatus folds internal states into the caller-facing status set.
func userStatus(rec *job.Record) string {
	switch rec.State {
	case job.StateCompleted:
		if _, ok := rec.Result["validation_error"]; ok {
			return "completed_with_validation_error"
		}
		return "completed"
	case job.StateDiscarded:
		return "discarded"
	}
	return "in_progress"
}
