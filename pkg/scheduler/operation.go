package scheduler

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/taskmesh/runtime/pkg/types"
)

// OperationKind tags the variant carried by a TaskOperation.
type OperationKind string

const (
	OpRun    OperationKind = "run"
	OpCancel OperationKind = "cancel"
	OpPause  OperationKind = "pause"
	OpResume OperationKind = "resume"
)

// TaskOperation is the closed sum type that flows through the Scheduler.
// Run carries the full TaskSendParams and is set only for OpRun; TaskID
// carries the target task for every kind (for OpRun it mirrors
// Run.TaskID). SpanID/TraceID are advisory tracing context
// carried across the transport (see envelope.go); nothing in this package
// reconstructs a remote span from them.
type TaskOperation struct {
	Kind    OperationKind
	Run     *types.TaskSendParams
	TaskID  uuid.UUID
	SpanID  string
	TraceID string
}

// NewRunOperation builds a run operation for params.
func NewRunOperation(params types.TaskSendParams) TaskOperation {
	return TaskOperation{Kind: OpRun, Run: &params, TaskID: params.TaskID}
}

// NewCancelOperation builds a cancel operation targeting taskID.
func NewCancelOperation(taskID uuid.UUID) TaskOperation {
	return TaskOperation{Kind: OpCancel, TaskID: taskID}
}

// NewPauseOperation builds a pause operation targeting taskID.
func NewPauseOperation(taskID uuid.UUID) TaskOperation {
	return TaskOperation{Kind: OpPause, TaskID: taskID}
}

// NewResumeOperation builds a resume operation targeting taskID.
func NewResumeOperation(taskID uuid.UUID) TaskOperation {
	return TaskOperation{Kind: OpResume, TaskID: taskID}
}

// Validate reports whether the operation is well-formed: a known Kind with
// its required payload present.
func (op TaskOperation) Validate() error {
	switch op.Kind {
	case OpRun:
		if op.Run == nil {
			return fmt.Errorf("scheduler: run operation missing params")
		}
		return nil
	case OpCancel, OpPause, OpResume:
		if op.TaskID == uuid.Nil {
			return fmt.Errorf("scheduler: %s operation missing task_id", op.Kind)
		}
		return nil
	default:
		return fmt.Errorf("scheduler: unknown operation kind %q", op.Kind)
	}
}
