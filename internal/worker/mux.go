package worker

import (
	"context"

	"github.com/hibiken/asynq"
)

// Mux is a thin wrapper over asynq's ServeMux so the scheduler registers
// handlers without leaking asynq types upward.
type Mux struct{ mux *asynq.ServeMux }

func NewMux() *Mux { return &Mux{mux: asynq.NewServeMux()} }

func (m *Mux) HandleFunc(taskType string, h func(ctx context.Context, task *asynq.Task) error) {
	m.mux.HandleFunc(taskType, h)
}

func (m *Mux) Mux() *asynq.ServeMux { return m.mux }
