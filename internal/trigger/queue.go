package trigger

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrQueueClosed is returned by Dispatch after Stop.
var ErrQueueClosed = errors.New("trigger queue closed")

// Handler consumes events taken off the queue.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// Queue fans events out to a fixed set of workers. Events of the same bot
// always land on the same worker, so they are handled in arrival order,
// while different bots proceed concurrently.
type Queue struct {
	shards  []chan Event
	handler Handler
	logger  *zap.Logger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewQueue creates a queue with the given number of workers, each with a
// buffer of size events.
func NewQueue(workers, size int, handler Handler, logger *zap.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 256
	}
	shards := make([]chan Event, workers)
	for i := range shards {
		shards[i] = make(chan Event, size)
	}
	return &Queue{shards: shards, handler: handler, logger: logger}
}

// Start launches the workers. Handlers run with a context derived from ctx
// that is canceled by Stop.
func (q *Queue) Start(ctx context.Context) {
	q.baseCtx, q.cancel = context.WithCancel(ctx)
	for i, ch := range q.shards {
		q.wg.Add(1)
		go q.worker(i, ch)
	}
	q.logger.Info("Trigger queue started", zap.Int("workers", len(q.shards)))
}

// Stop refuses new events, lets workers drain what is already queued and
// waits for them to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, ch := range q.shards {
		close(ch)
	}
	q.mu.Unlock()

	q.wg.Wait()
	if q.cancel != nil {
		q.cancel()
	}
	q.logger.Info("Trigger queue stopped")
}

// Dispatch enqueues ev, blocking while the worker's buffer is full.
func (q *Queue) Dispatch(ctx context.Context, ev Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.shards[q.shardFor(ev)] <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) shardFor(ev Event) int {
	id := ev.BotID
	if id < 0 {
		id = -id
	}
	return int(id % int64(len(q.shards)))
}

func (q *Queue) worker(n int, ch <-chan Event) {
	defer q.wg.Done()
	for ev := range ch {
		if err := q.handler.Handle(q.baseCtx, ev); err != nil {
			q.logger.Error("Trigger failed",
				zap.Int("worker", n),
				zap.String("kind", string(ev.Kind)),
				zap.Int64("bot_id", ev.BotID),
				zap.Int64("order_id", ev.OrderID),
				zap.Error(err),
			)
		}
	}
}
