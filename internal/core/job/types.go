package job

import "time"

// State tracks a job through the queue lifecycle. Terminal states are
// completed and discarded; everything else is in flight.
type State string

const (
	StateAvailable State = "available"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateRetryable State = "retryable"
	StateDiscarded State = "discarded"
)

// Action tags name the step a job performs. Queues are named after the
// action they carry.
const (
	ActionNavigate = "navigate"
	ActionSearch   = "search"
	ActionExtract  = "extract"
)

// Args is the untyped argument mapping submitted with a job.
type Args map[string]any

func (a Args) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

func (a Args) Bool(key string, def bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return def
}

func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// Child returns a nested argument mapping, or nil when absent.
func (a Args) Child(key string) Args {
	if v, ok := a[key].(map[string]any); ok {
		return Args(v)
	}
	return nil
}

// Spec describes a job to enqueue: either a caller submission or a
// follow-up produced by a step handler.
type Spec struct {
	Queue  string `json:"queue"`
	Action string `json:"action"`
	Args   Args   `json:"args"`
}

// StepError is one recorded failure of a job attempt.
type StepError struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Record is the authoritative job state stored in Redis.
type Record struct {
	JobID       string         `json:"job_id"`
	Queue       string         `json:"queue"`
	Action      string         `json:"action"`
	Args        Args           `json:"args,omitempty"`
	State       State          `json:"state"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	Errors      []StepError    `json:"errors,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (r *Record) Terminal() bool {
	return r.State == StateCompleted || r.State == StateDiscarded
}
