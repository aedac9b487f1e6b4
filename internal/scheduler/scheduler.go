// Package scheduler runs periodic engine tasks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is the work a Scheduler runs on every tick.
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

// Execute calls f.
func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// Scheduler runs a task on interval boundaries. After a failed run it
// waits restartDelay instead of the next boundary, when that is set.
type Scheduler struct {
	name         string
	interval     time.Duration
	restartDelay time.Duration
	task         Task
	logger       *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a scheduler. interval must be positive.
func NewScheduler(name string, interval, restartDelay time.Duration, task Task, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		name:         name,
		interval:     interval,
		restartDelay: restartDelay,
		task:         task,
		logger:       logger.With(zap.String("task", name)),
		stopCh:       make(chan struct{}),
	}
}

// Start blocks running the task until ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("scheduler %s: interval must be positive", s.name)
	}

	timer := time.NewTimer(s.untilNextRun())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.stopCh:
			return nil

		case <-timer.C:
			wait := s.untilNextRun()
			if err := s.run(ctx); err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("Task failed", zap.Error(err))
				if s.restartDelay > 0 {
					wait = s.restartDelay
					s.logger.Info("Task will restart after delay", zap.Duration("delay", wait))
				}
			}
			timer.Reset(wait)
		}
	}
}

// run executes the task once, turning a panic into an error.
func (s *Scheduler) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	start := time.Now()
	err = s.task.Execute(ctx)
	s.logger.Debug("Task executed", zap.Duration("took", time.Since(start)))
	return err
}

func (s *Scheduler) untilNextRun() time.Duration {
	now := time.Now()
	return now.Truncate(s.interval).Add(s.interval).Sub(now)
}

// Stop ends Start. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
