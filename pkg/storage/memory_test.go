package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/runtime/pkg/types"
)

func TestMemoryStoreSaveAndLoadTask(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	task := &types.Task{
		ID:        uuid.New(),
		ContextID: uuid.New(),
		State:     types.TaskSubmitted,
		Messages: []types.Message{
			{MessageID: uuid.New(), Role: types.RoleUser, Parts: []types.Part{{Kind: types.PartText, Text: "hi"}}},
		},
	}
	require.NoError(t, store.SaveTask(ctx, task))
	assert.Equal(t, 1, task.Version)

	loaded, err := store.LoadTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskSubmitted, loaded.State)
	assert.Len(t, loaded.Messages, 1)
	assert.Equal(t, 1, loaded.Version)
}

func TestMemoryStoreLoadMissingTask(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.LoadTask(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdateTaskStateCAS(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	task := &types.Task{ID: uuid.New(), ContextID: uuid.New(), State: types.TaskSubmitted}
	require.NoError(t, store.SaveTask(ctx, task))

	updated, err := store.UpdateTaskState(ctx, task.ID, types.TaskWorking, 1, "")
	require.NoError(t, err)
	assert.Equal(t, types.TaskWorking, updated.State)
	assert.Equal(t, 2, updated.Version)

	_, err = store.UpdateTaskState(ctx, task.ID, types.TaskCompleted, 1, "")
	assert.ErrorIs(t, err, ErrVersionConflict)

	_, err = store.UpdateTaskState(ctx, uuid.New(), types.TaskWorking, 1, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDeleteTaskCascades(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	task := &types.Task{ID: uuid.New(), ContextID: uuid.New(), State: types.TaskSubmitted}
	require.NoError(t, store.SaveTask(ctx, task))
	require.NoError(t, store.AppendMessage(ctx, task.ID, types.Message{MessageID: uuid.New(), Role: types.RoleAgent}))
	require.NoError(t, store.AppendArtifact(ctx, task.ID, types.Artifact{ArtifactID: uuid.New()}))
	require.NoError(t, store.SaveWebhookConfig(ctx, task.ID, types.WebhookConfig{URL: "https://example.com/hook"}))

	require.NoError(t, store.DeleteTask(ctx, task.ID))

	_, err := store.LoadTask(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.LoadWebhookConfig(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreWebhookConfigRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	taskID := uuid.New()

	_, err := store.LoadWebhookConfig(ctx, taskID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveWebhookConfig(ctx, taskID, types.WebhookConfig{URL: "https://example.com/hook", Token: "secret"}))

	cfg, err := store.LoadWebhookConfig(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hook", cfg.URL)

	all, err := store.LoadAllWebhookConfigs(ctx)
	require.NoError(t, err)
	assert.Contains(t, all, taskID)

	require.NoError(t, store.DeleteWebhookConfig(ctx, taskID))
	require.NoError(t, store.DeleteWebhookConfig(ctx, taskID), "delete must be idempotent")

	_, err = store.LoadWebhookConfig(ctx, taskID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreAppendMessageUnknownTask(t *testing.T) {
	store := NewMemoryStore()
	err := store.AppendMessage(context.Background(), uuid.New(), types.Message{MessageID: uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)
}
