package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"webagent/internal/core/job"
	"webagent/internal/platform/redis"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeNavigate = "automation:navigate"
	TaskTypeSearch   = "automation:search"
	TaskTypeExtract  = "llm:extract"
)

// TypeForAction maps an action tag to its asynq task type. Queues are
// named after actions, so this also keys the per-queue servers.
func TypeForAction(action string) (string, bool) {
	switch action {
	case job.ActionNavigate:
		return TaskTypeNavigate, true
	case job.ActionSearch:
		return TaskTypeSearch, true
	case job.ActionExtract:
		return TaskTypeExtract, true
	}
	return "", false
}

// Payload is the task body carried through asynq. The job record in Redis
// stays authoritative; the payload only identifies and re-describes the job.
type Payload struct {
	JobID  string   `json:"job_id"`
	Queue  string   `json:"queue"`
	Action string   `json:"action"`
	Args   job.Args `json:"args,omitempty"`
}

type Client struct{ c *asynq.Client }

func New(r *redis.Service) *Client { return &Client{c: asynq.NewClient(r.AsynqRedisOpt())} }

func (t *Client) Close() error { return t.c.Close() }

// Enqueue submits a task to its queue. maxRetry is the number of retries
// after the first attempt.
func (t *Client) Enqueue(ctx context.Context, p Payload, maxRetry int) error {
	taskType, ok := TypeForAction(p.Action)
	if !ok {
		return fmt.Errorf("unknown action: %s", p.Action)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = t.c.EnqueueContext(ctx, asynq.NewTask(taskType, b), asynq.Queue(p.Queue), asynq.MaxRetry(maxRetry))
	return err
}
