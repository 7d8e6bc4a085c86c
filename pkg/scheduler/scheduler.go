// Package scheduler decouples task submission from task execution: producers
// enqueue TaskOperation values, workers consume them one at a time from a
// competing-consumers queue. Two transports are provided — MemoryScheduler
// for single-process deployments and tests, RedisScheduler for multi-process
// deployments — behind the same Scheduler interface.
package scheduler

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/taskmesh/runtime/pkg/types"
)

// ErrClosed is returned by MemoryScheduler's producer methods and Ping when
// called after Close. RedisScheduler returns the go-redis client error
// instead.
var ErrClosed = errors.New("scheduler: closed")

// Scheduler is the contract described in §4.1: four producer operations and
// one consumer operation. Implementations must guarantee FIFO delivery of
// operations enqueued for a single task_id, and must be safe for concurrent
// use by multiple producer goroutines and a single consumer goroutine.
type Scheduler interface {
	// RunTask enqueues a run operation. It returns once the transport has
	// durably accepted the operation, not once a worker has claimed it.
	RunTask(ctx context.Context, params types.TaskSendParams) error

	// CancelTask enqueues a cancel operation. It does not remove any
	// pending run operation already queued for taskID.
	CancelTask(ctx context.Context, taskID uuid.UUID) error

	// PauseTask enqueues a pause operation.
	PauseTask(ctx context.Context, taskID uuid.UUID) error

	// ResumeTask enqueues a resume operation.
	ResumeTask(ctx context.Context, taskID uuid.UUID) error

	// Operations returns a channel of task operations. Exactly one consumer
	// should range over the returned channel per worker; competing workers
	// each open their own call and the transport fans operations out across
	// them without duplication. The channel closes when ctx is canceled or
	// Close is called.
	Operations(ctx context.Context) (<-chan TaskOperation, error)

	// QueueDepth reports the number of operations currently queued.
	QueueDepth(ctx context.Context) (int64, error)

	// Ping verifies transport connectivity.
	Ping(ctx context.Context) error

	// Close releases all transport resources and terminates any in-flight
	// Operations iterator cleanly.
	Close() error
}
