package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskmesh/runtime/pkg/types"
)

// MemoryStore is a non-durable Store backed by four in-process maps
// guarded by a single mutex: tasks, messages-by-task, artifacts-by-task,
// and webhook configs. It is used for tests and single-process demos; it
// does not survive a restart.
type MemoryStore struct {
	mu sync.RWMutex

	tasks           map[uuid.UUID]*types.Task
	messagesByTask  map[uuid.UUID][]types.Message
	artifactsByTask map[uuid.UUID][]types.Artifact
	webhookConfigs  map[uuid.UUID]types.WebhookConfig
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:           make(map[uuid.UUID]*types.Task),
		messagesByTask:  make(map[uuid.UUID][]types.Message),
		artifactsByTask: make(map[uuid.UUID][]types.Artifact),
		webhookConfigs:  make(map[uuid.UUID]types.WebhookConfig),
	}
}

// SaveTask implements Store.
func (s *MemoryStore) SaveTask(ctx context.Context, task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := task.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	stored := *task
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.tasks[task.ID] = &stored

	if len(task.Messages) > 0 {
		s.messagesByTask[task.ID] = append([]types.Message(nil), task.Messages...)
	}

	task.Version = stored.Version
	task.CreatedAt = now
	task.UpdatedAt = now
	return nil
}

func (s *MemoryStore) assemble(taskID uuid.UUID) (*types.Task, bool) {
	stored, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	out := *stored
	out.Messages = append([]types.Message(nil), s.messagesByTask[taskID]...)
	out.Artifacts = append([]types.Artifact(nil), s.artifactsByTask[taskID]...)
	return &out, true
}

// LoadTask implements Store.
func (s *MemoryStore) LoadTask(ctx context.Context, taskID uuid.UUID) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.assemble(taskID)
	if !ok {
		return nil, ErrNotFound
	}
	return task, nil
}

// UpdateTaskState implements Store.
func (s *MemoryStore) UpdateTaskState(ctx context.Context, taskID uuid.UUID, newState types.TaskState, expectedVersion int, taskErr string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	stored.State = newState
	stored.Error = taskErr
	stored.Version++
	stored.UpdatedAt = time.Now().UTC()

	task, _ := s.assemble(taskID)
	return task, nil
}

// DeleteTask implements Store. Deleting a task cascades to its messages,
// artifacts, and webhook config.
func (s *MemoryStore) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, taskID)
	delete(s.messagesByTask, taskID)
	delete(s.artifactsByTask, taskID)
	delete(s.webhookConfigs, taskID)
	return nil
}

// AppendMessage implements Store.
func (s *MemoryStore) AppendMessage(ctx context.Context, taskID uuid.UUID, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; !ok {
		return ErrNotFound
	}
	s.messagesByTask[taskID] = append(s.messagesByTask[taskID], msg)
	return nil
}

// ListMessages implements Store.
func (s *MemoryStore) ListMessages(ctx context.Context, taskID uuid.UUID) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tasks[taskID]; !ok {
		return nil, ErrNotFound
	}
	return append([]types.Message(nil), s.messagesByTask[taskID]...), nil
}

// AppendArtifact implements Store.
func (s *MemoryStore) AppendArtifact(ctx context.Context, taskID uuid.UUID, artifact types.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; !ok {
		return ErrNotFound
	}
	s.artifactsByTask[taskID] = append(s.artifactsByTask[taskID], artifact)
	return nil
}

// ListArtifacts implements Store.
func (s *MemoryStore) ListArtifacts(ctx context.Context, taskID uuid.UUID) ([]types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tasks[taskID]; !ok {
		return nil, ErrNotFound
	}
	return append([]types.Artifact(nil), s.artifactsByTask[taskID]...), nil
}

// SaveWebhookConfig implements Store. Webhook writes are deliberately not
// transactional with task writes (§4.3): a config may exist for a task_id
// this store has never seen, and that is tolerated.
func (s *MemoryStore) SaveWebhookConfig(ctx context.Context, taskID uuid.UUID, cfg types.WebhookConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	cfg.TaskID = taskID
	s.webhookConfigs[taskID] = cfg
	return nil
}

// LoadWebhookConfig implements Store.
func (s *MemoryStore) LoadWebhookConfig(ctx context.Context, taskID uuid.UUID) (*types.WebhookConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.webhookConfigs[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	out := cfg
	return &out, nil
}

// DeleteWebhookConfig implements Store.
func (s *MemoryStore) DeleteWebhookConfig(ctx context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.webhookConfigs, taskID)
	return nil
}

// LoadAllWebhookConfigs implements Store.
func (s *MemoryStore) LoadAllWebhookConfigs(ctx context.Context) (map[uuid.UUID]types.WebhookConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uuid.UUID]types.WebhookConfig, len(s.webhookConfigs))
	for k, v := range s.webhookConfigs {
		out[k] = v
	}
	return out, nil
}

// Ping implements Store; the memory backend has nothing to verify.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close implements Store; the memory backend holds no external resources.
func (s *MemoryStore) Close() error {
	return nil
}
