package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/taskmesh/runtime/pkg/types"
)

// envelope is the wire format a TaskOperation is reduced to before crossing
// the Redis transport (§4.1). UUIDs are plain strings on the wire and are
// parsed back into their typed fields on the way in — this package never
// does a generic "does this string look like a UUID" pass over arbitrary
// payload data.
type envelope struct {
	Operation OperationKind   `json:"operation"`
	Params    envelopeParams  `json:"params"`
	SpanID    *string         `json:"span_id"`
	TraceID   *string         `json:"trace_id"`
}

type envelopeParams struct {
	TaskID      uuid.UUID             `json:"task_id"`
	ContextID   uuid.UUID             `json:"context_id,omitempty"`
	Messages    []types.Message       `json:"messages,omitempty"`
	Webhook     *types.WebhookConfig  `json:"webhook,omitempty"`
	LongRunning bool                  `json:"long_running,omitempty"`
}

func marshalOperation(op TaskOperation) ([]byte, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	env := envelope{Operation: op.Kind, SpanID: nonEmpty(op.SpanID), TraceID: nonEmpty(op.TraceID)}

	switch op.Kind {
	case OpRun:
		env.Params = envelopeParams{
			TaskID:      op.Run.TaskID,
			ContextID:   op.Run.ContextID,
			Messages:    op.Run.Messages,
			Webhook:     op.Run.Webhook,
			LongRunning: op.Run.LongRunning,
		}
	default:
		env.Params = envelopeParams{TaskID: op.TaskID}
	}

	return json.Marshal(env)
}

func unmarshalOperation(data []byte) (TaskOperation, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return TaskOperation{}, fmt.Errorf("scheduler: decode envelope: %w", err)
	}

	op := TaskOperation{Kind: env.Operation, TaskID: env.Params.TaskID}
	if env.SpanID != nil {
		op.SpanID = *env.SpanID
	}
	if env.TraceID != nil {
		op.TraceID = *env.TraceID
	}

	switch env.Operation {
	case OpRun:
		op.Run = &types.TaskSendParams{
			TaskID:      env.Params.TaskID,
			ContextID:   env.Params.ContextID,
			Messages:    env.Params.Messages,
			Webhook:     env.Params.Webhook,
			LongRunning: env.Params.LongRunning,
		}
	case OpCancel, OpPause, OpResume:
		// TaskID already populated above.
	default:
		return TaskOperation{}, fmt.Errorf("scheduler: unknown operation %q", env.Operation)
	}

	if err := op.Validate(); err != nil {
		return TaskOperation{}, err
	}
	return op, nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
