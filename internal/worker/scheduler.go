package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"webagent/internal/config"
	"webagent/internal/core/automation"
	"webagent/internal/core/extract"
	"webagent/internal/core/job"
	"webagent/internal/core/workflow"
	"webagent/internal/logger"
	"webagent/internal/metrics"
	rds "webagent/internal/platform/redis"
	"webagent/internal/platform/tasks"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Handler executes one job's step. Satisfied by workflow.Controller.
type Handler interface {
	Handle(ctx context.Context, rec *job.Record) (*workflow.Outcome, error)
}

// Enqueuer submits a task payload to its queue. Satisfied by tasks.Client.
type Enqueuer interface {
	Enqueue(ctx context.Context, p tasks.Payload, maxRetry int) error
}

// Scheduler runs one asynq server per queue so every queue gets an
// independent concurrency cap, and adapts handler outcomes into record
// transitions. It is the sole writer of job state and attempts.
type Scheduler struct {
	queues  map[string]config.QueuePolicy
	redis   *rds.Service
	jobs    *job.Service
	enq     Enqueuer
	handler Handler
	log     *logger.Logger
	servers []*asynq.Server
}

func NewScheduler(queues map[string]config.QueuePolicy, redisSvc *rds.Service, jobs *job.Service, enq Enqueuer, handler Handler) *Scheduler {
	return &Scheduler{
		queues:  queues,
		redis:   redisSvc,
		jobs:    jobs,
		enq:     enq,
		handler: handler,
		log:     logger.New("Scheduler"),
	}
}

// Submit creates a pending job record and enqueues its task. Failures are
// surfaced synchronously to the caller and are fatal to this call only.
func (s *Scheduler) Submit(ctx context.Context, spec job.Spec) (string, error) {
	policy, ok := s.queues[spec.Queue]
	if !ok {
		return "", &workflow.ConfigError{Reason: "unknown queue " + spec.Queue}
	}
	if _, ok := tasks.TypeForAction(spec.Action); !ok {
		return "", &workflow.ConfigError{Reason: "unknown action " + spec.Action}
	}

	id := uuid.NewString()
	rec := &job.Record{
		JobID:       id,
		Queue:       spec.Queue,
		Action:      spec.Action,
		Args:        spec.Args,
		MaxAttempts: policy.MaxAttempts,
	}
	if err := s.jobs.InitPending(ctx, rec); err != nil {
		return "", fmt.Errorf("init job record: %w", err)
	}
	payload := tasks.Payload{JobID: id, Queue: spec.Queue, Action: spec.Action, Args: spec.Args}
	if err := s.enq.Enqueue(ctx, payload, policy.MaxAttempts-1); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

func (s *Scheduler) Start() error {
	for name, policy := range s.queues {
		taskType, ok := tasks.TypeForAction(name)
		if !ok {
			return fmt.Errorf("queue %s has no task type", name)
		}
		srv := asynq.NewServer(s.redis.AsynqRedisOpt(), asynq.Config{
			Concurrency:    policy.Concurrency,
			Queues:         map[string]int{name: 1},
			RetryDelayFunc: retryDelay,
		})
		mux := NewMux()
		mux.HandleFunc(taskType, s.handleTask)
		if err := srv.Start(mux.Mux()); err != nil {
			return fmt.Errorf("start %s server: %w", name, err)
		}
		s.servers = append(s.servers, srv)
		s.log.LogInfof("queue %s: concurrency=%d max_attempts=%d", name, policy.Concurrency, policy.MaxAttempts)
	}
	return nil
}

func (s *Scheduler) Shutdown() {
	for _, srv := range s.servers {
		srv.Shutdown()
	}
}

// retryDelay: 2s base with exponential doubling and a little jitter,
// capped at 5 minutes.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n > 7 {
		n = 7
	}
	d := time.Duration(1<<uint(n)) * 2 * time.Second
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	jitter := time.Duration(rand.Intn(1001)-500) * time.Millisecond
	return d + jitter
}

func (s *Scheduler) handleTask(ctx context.Context, t *asynq.Task) error {
	var p tasks.Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode task payload: %v: %w", err, asynq.SkipRetry)
	}

	rec, err := s.jobs.MarkExecuting(ctx, p.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", p.JobID, err)
	}

	start := time.Now()
	outcome, herr := s.handler.Handle(ctx, rec)
	metrics.ObserveStep(rec.Queue, time.Since(start))

	if herr != nil {
		return s.fail(ctx, rec, herr)
	}

	// Follow-ups first, then completion: enqueue happens-after the step,
	// best-effort. A failed follow-up never fails the parent.
	s.enqueueFollowUps(ctx, rec, outcome.FollowUps)
	if err := s.jobs.MarkCompleted(ctx, rec.JobID, outcome.Result); err != nil {
		s.log.LogErrorf("job %s: record completion: %v", rec.JobID, err)
	}
	metrics.CountJob(rec.Queue, "completed")
	return nil
}

func (s *Scheduler) fail(ctx context.Context, rec *job.Record, herr error) error {
	kind, retriable := classify(herr)
	stepErr := job.StepError{Kind: kind, Message: herr.Error(), At: time.Now().UTC()}

	if !retriable {
		if err := s.jobs.MarkDiscarded(ctx, rec.JobID, stepErr); err != nil {
			s.log.LogErrorf("job %s: record discard: %v", rec.JobID, err)
		}
		metrics.CountJob(rec.Queue, "discarded")
		s.log.LogWarnf("job %s discarded (%s): %v", rec.JobID, kind, herr)
		return fmt.Errorf("%v: %w", herr, asynq.SkipRetry)
	}

	if rec.Attempts >= rec.MaxAttempts {
		if err := s.jobs.MarkDiscarded(ctx, rec.JobID, stepErr); err != nil {
			s.log.LogErrorf("job %s: record discard: %v", rec.JobID, err)
		}
		metrics.CountJob(rec.Queue, "discarded")
		s.log.LogWarnf("job %s discarded after %d attempts (%s): %v", rec.JobID, rec.Attempts, kind, herr)
		return herr
	}

	if err := s.jobs.MarkRetryable(ctx, rec.JobID, stepErr); err != nil {
		s.log.LogErrorf("job %s: record retry: %v", rec.JobID, err)
	}
	metrics.CountJob(rec.Queue, "retryable")
	s.log.LogInfof("job %s retryable, attempt %d/%d (%s)", rec.JobID, rec.Attempts, rec.MaxAttempts, kind)
	return herr
}

func (s *Scheduler) enqueueFollowUps(ctx context.Context, rec *job.Record, specs []job.Spec) {
	for _, spec := range specs {
		id, err := s.Submit(ctx, spec)
		if err != nil {
			metrics.CountFollowUp(spec.Queue, "failed")
			s.log.LogWarnf("job %s: follow-up %s not enqueued: %v", rec.JobID, spec.Action, err)
			continue
		}
		metrics.CountFollowUp(spec.Queue, "enqueued")
		s.log.LogInfof("job %s: enqueued follow-up %s job %s", rec.JobID, spec.Action, id)
	}
}

// classify maps a handler error to the recorded error kind and whether the
// scheduler should retry it.
func classify(err error) (kind string, retriable bool) {
	var (
		ce *workflow.ConfigError
		pf *automation.ProcessFailureError
		lf *automation.LogicalFailureError
		ae *extract.ApiError
		rf *extract.RequestFailedError
		pe *extract.ParsingError
	)
	switch {
	case errors.As(err, &ce):
		return "config_error", false
	case errors.As(err, &pf):
		return "process_failure", true
	case errors.As(err, &lf):
		return "logical_failure", true
	case errors.As(err, &ae):
		return "api_error", true
	case errors.As(err, &rf):
		return "request_failed", true
	case errors.As(err, &pe):
		return "parsing_error", true
	}
	return "error", true
}
