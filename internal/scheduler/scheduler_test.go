package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSchedulerRunsUntilStopped(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler("count", 10*time.Millisecond, 0, TaskFunc(func(context.Context) error {
		runs.Add(1)
		return nil
	}), zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
	assert.NoError(t, <-done)
}

func TestSchedulerContinuesAfterFailureAndPanic(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler("flaky", 10*time.Millisecond, 5*time.Millisecond, TaskFunc(func(context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("boom")
		case 2:
			panic("kaboom")
		}
		return nil
	}), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSchedulerRejectsZeroInterval(t *testing.T) {
	s := NewScheduler("bad", 0, 0, TaskFunc(func(context.Context) error { return nil }), zap.NewNop())
	assert.Error(t, s.Start(context.Background()))
}
