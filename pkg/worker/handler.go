package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taskmesh/runtime/pkg/types"
)

// ArtifactEmitter lets a Handler publish an artifact mid-execution, before
// its final HandlerResult is known. The worker persists and notifies each
// emitted artifact immediately, ahead of the step's eventual status event
// (§4.4 "artifacts of a step precede that step's status event").
type ArtifactEmitter func(types.Artifact) error

// HandlerResult is what a Handler returns once it has finished processing
// the task's current turn. State must be one of TaskCompleted, TaskFailed,
// or TaskInputRequired — the states a handler's own result moves a working
// task to (paused and canceled come from operations, not from a result).
type HandlerResult struct {
	State    types.TaskState
	Messages []types.Message
}

// Handler drives one turn of task execution: given the task's accumulated
// history, produce a result and, optionally, artifacts along the way.
// Implementations must respond to ctx cancellation promptly — it is the
// mechanism by which a cancel or pause operation reaches a running handler
// (§5 "Cooperative (external)").
type Handler interface {
	Handle(ctx context.Context, task *types.Task, emit ArtifactEmitter) (HandlerResult, error)
}

// NoopHandler immediately completes every task without producing any
// messages or artifacts. Useful for exercising the worker loop and
// push-notification delivery in isolation.
type NoopHandler struct{}

// Handle implements Handler.
func (NoopHandler) Handle(ctx context.Context, task *types.Task, emit ArtifactEmitter) (HandlerResult, error) {
	return HandlerResult{State: types.TaskCompleted}, nil
}

// EchoHandler emits one artifact containing the text of the task's most
// recent user message, then completes. It is grounded on the reference
// echo agent (original_source/examples/echo_agent_with_webhooks.py), which
// answers every turn by restating its input.
type EchoHandler struct{}

// Handle implements Handler.
func (EchoHandler) Handle(ctx context.Context, task *types.Task, emit ArtifactEmitter) (HandlerResult, error) {
	text := lastUserText(task)

	if err := ctx.Err(); err != nil {
		return HandlerResult{}, err
	}

	artifact := types.Artifact{
		ArtifactID: uuid.New(),
		Name:       "echo",
		Parts:      []types.Part{{Kind: types.PartText, Text: text}},
	}
	if err := emit(artifact); err != nil {
		return HandlerResult{}, fmt.Errorf("echo handler: emit artifact: %w", err)
	}

	return HandlerResult{
		State: types.TaskCompleted,
		Messages: []types.Message{{
			MessageID: uuid.New(),
			Role:      types.RoleAgent,
			Parts:     []types.Part{{Kind: types.PartText, Text: text}},
			CreatedAt: time.Now(),
		}},
	}, nil
}

func lastUserText(task *types.Task) string {
	for i := len(task.Messages) - 1; i >= 0; i-- {
		msg := task.Messages[i]
		if msg.Role != types.RoleUser {
			continue
		}
		for _, part := range msg.Parts {
			if part.Kind == types.PartText {
				return part.Text
			}
		}
	}
	return ""
}
