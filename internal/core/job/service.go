package job

import (
	"context"
	"fmt"
	"time"

	"webagent/internal/logger"
	rds "webagent/internal/platform/redis"
)

// Service owns job records in Redis. The scheduler is the only caller of
// the state-transition methods; handlers never touch records directly.
type Service struct {
	redis *rds.Service
	log   *logger.Logger
}

func NewService(redis *rds.Service) *Service {
	return &Service{redis: redis, log: logger.New("JobService")}
}

func (s *Service) Get(ctx context.Context, jobID string) (*Record, error) {
	var rec Record
	if err := s.redis.CacheGet(ctx, key(jobID), &rec); err != nil {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return &rec, nil
}

// InitPending stores a fresh record in the available state.
func (s *Service) InitPending(ctx context.Context, rec *Record) error {
	rec.State = StateAvailable
	rec.Attempts = 0
	rec.CreatedAt = time.Now().UTC()
	return s.store(ctx, rec)
}

// MarkExecuting increments the attempt counter and returns the updated
// record for the handler.
func (s *Service) MarkExecuting(ctx context.Context, jobID string) (*Record, error) {
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	rec.State = StateExecuting
	rec.Attempts++
	if err := s.store(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) MarkCompleted(ctx context.Context, jobID string, result map[string]any) error {
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	rec.State = StateCompleted
	rec.Result = result
	return s.store(ctx, rec)
}

func (s *Service) MarkRetryable(ctx context.Context, jobID string, stepErr StepError) error {
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	rec.State = StateRetryable
	rec.Errors = append(rec.Errors, stepErr)
	return s.store(ctx, rec)
}

func (s *Service) MarkDiscarded(ctx context.Context, jobID string, stepErr StepError) error {
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	rec.State = StateDiscarded
	rec.Errors = append(rec.Errors, stepErr)
	return s.store(ctx, rec)
}

func (s *Service) store(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = time.Now().UTC()
	if err := s.redis.CacheSet(ctx, key(rec.JobID), rec, ttl(rec.State)); err != nil {
		return err
	}
	// Update event for status listeners
	_ = s.redis.Client().Publish(ctx, key(rec.JobID), "updated").Err()
	return nil
}

func key(id string) string { return "job:" + id }

func ttl(s State) int {
	if s == StateCompleted || s == StateDiscarded {
		return 3600
	}
	return 600
}
