package scheduler

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/taskmesh/runtime/pkg/log"
	"github.com/taskmesh/runtime/pkg/metrics"
	"github.com/taskmesh/runtime/pkg/types"
)

// DefaultMemoryCapacity is the buffered channel size used when
// MemoryConfig.Capacity is zero. It is also the default for
// SCHEDULER_MEMORY_CAPACITY.
const DefaultMemoryCapacity = 1024

// MemoryConfig configures a MemoryScheduler.
type MemoryConfig struct {
	Capacity int
}

// MemoryScheduler is an in-process Scheduler backed by a bounded, blocking
// channel. Producers suspend once the channel is full; this is the
// backpressure mechanism §4.1 calls out as a transport concern for the
// memory backend.
type MemoryScheduler struct {
	logger zerolog.Logger
	ch     chan TaskOperation

	mu     sync.Mutex
	closed bool
}

// NewMemoryScheduler constructs a MemoryScheduler with the given capacity.
// A zero or negative capacity falls back to DefaultMemoryCapacity.
func NewMemoryScheduler(cfg MemoryConfig) *MemoryScheduler {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryScheduler{
		logger: log.WithComponent("scheduler.memory"),
		ch:     make(chan TaskOperation, capacity),
	}
}

func (s *MemoryScheduler) enqueue(ctx context.Context, op TaskOperation) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	select {
	case s.ch <- op:
		metrics.OperationsEnqueued.WithLabelValues(string(op.Kind)).Inc()
		metrics.QueueDepth.Set(float64(len(s.ch)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunTask implements Scheduler.
func (s *MemoryScheduler) RunTask(ctx context.Context, params types.TaskSendParams) error {
	return s.enqueue(ctx, NewRunOperation(params))
}

// CancelTask implements Scheduler.
func (s *MemoryScheduler) CancelTask(ctx context.Context, taskID uuid.UUID) error {
	return s.enqueue(ctx, NewCancelOperation(taskID))
}

// PauseTask implements Scheduler.
func (s *MemoryScheduler) PauseTask(ctx context.Context, taskID uuid.UUID) error {
	return s.enqueue(ctx, NewPauseOperation(taskID))
}

// ResumeTask implements Scheduler.
func (s *MemoryScheduler) ResumeTask(ctx context.Context, taskID uuid.UUID) error {
	return s.enqueue(ctx, NewResumeOperation(taskID))
}

// Operations implements Scheduler. The returned channel is a new unbuffered
// channel fed from the scheduler's shared backing channel by a forwarding
// goroutine; it closes when ctx is canceled or Close is called.
func (s *MemoryScheduler) Operations(ctx context.Context) (<-chan TaskOperation, error) {
	out := make(chan TaskOperation)
	go func() {
		defer close(out)
		for {
			select {
			case op, ok := <-s.ch:
				if !ok {
					return
				}
				metrics.OperationsDequeued.WithLabelValues(string(op.Kind)).Inc()
				select {
				case out <- op:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// QueueDepth implements Scheduler.
func (s *MemoryScheduler) QueueDepth(ctx context.Context) (int64, error) {
	return int64(len(s.ch)), nil
}

// Ping implements Scheduler; the memory transport has no external dependency
// to verify, so Ping only checks that the scheduler has not been closed.
func (s *MemoryScheduler) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Scheduler. It is safe to call more than once.
func (s *MemoryScheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	s.logger.Info().Msg("memory scheduler closed")
	return nil
}
