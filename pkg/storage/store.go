package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/taskmesh/runtime/pkg/types"
)

// ErrNotFound is returned when a lookup by ID finds no row.
var ErrNotFound = errors.New("storage: not found")

// ErrVersionConflict is returned by UpdateTaskState when the caller's
// expected version no longer matches the stored row — another writer moved
// the task's state first (§5 ordering guarantees).
var ErrVersionConflict = errors.New("storage: version conflict")

// Store is the durable home of tasks, messages, artifacts, and webhook
// configs (§4.3). MemoryStore and PostgresStore both implement it; callers
// should not assume either backend is durable across process restarts
// beyond what each documents.
type Store interface {
	// SaveTask inserts a new task with its initial messages. task.Version
	// is set to 1 on success.
	SaveTask(ctx context.Context, task *types.Task) error

	// LoadTask returns the task with its messages and artifacts attached,
	// or ErrNotFound.
	LoadTask(ctx context.Context, taskID uuid.UUID) (*types.Task, error)

	// UpdateTaskState performs an optimistic compare-and-set: the update
	// applies only if the stored version equals expectedVersion, and the
	// stored version is incremented by one. Returns ErrVersionConflict on
	// mismatch and ErrNotFound if the task does not exist.
	UpdateTaskState(ctx context.Context, taskID uuid.UUID, newState types.TaskState, expectedVersion int, taskErr string) (*types.Task, error)

	// DeleteTask removes a task along with its messages, artifacts, and
	// webhook config (cascading delete, §3).
	DeleteTask(ctx context.Context, taskID uuid.UUID) error

	// AppendMessage adds one message to a task's history.
	AppendMessage(ctx context.Context, taskID uuid.UUID, msg types.Message) error

	// ListMessages returns a task's message history in append order.
	ListMessages(ctx context.Context, taskID uuid.UUID) ([]types.Message, error)

	// AppendArtifact adds one artifact to a task's output history.
	AppendArtifact(ctx context.Context, taskID uuid.UUID, artifact types.Artifact) error

	// ListArtifacts returns a task's artifacts in emission order.
	ListArtifacts(ctx context.Context, taskID uuid.UUID) ([]types.Artifact, error)

	// SaveWebhookConfig upserts the webhook config for taskID.
	SaveWebhookConfig(ctx context.Context, taskID uuid.UUID, cfg types.WebhookConfig) error

	// LoadWebhookConfig returns the stored config, or ErrNotFound.
	LoadWebhookConfig(ctx context.Context, taskID uuid.UUID) (*types.WebhookConfig, error)

	// DeleteWebhookConfig removes the row. Idempotent: no error if absent.
	DeleteWebhookConfig(ctx context.Context, taskID uuid.UUID) error

	// LoadAllWebhookConfigs returns every stored config, keyed by task_id.
	// Used once at push-manager startup to hydrate its in-memory map.
	LoadAllWebhookConfigs(ctx context.Context) (map[uuid.UUID]types.WebhookConfig, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
