package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/runtime/pkg/types"
)

// TestPostgresStoreLifecycle exercises PostgresStore against a real
// database. It is skipped unless TASKRUN_TEST_DATABASE_URL is set, since no
// Postgres instance is assumed to be available in a plain unit-test run.
func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("TASKRUN_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TASKRUN_TEST_DATABASE_URL not set, skipping postgres integration test")
	}

	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	task := &types.Task{ID: uuid.New(), ContextID: uuid.New(), State: types.TaskSubmitted}
	require.NoError(t, store.SaveTask(ctx, task))
	defer store.DeleteTask(ctx, task.ID)

	loaded, err := store.LoadTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskSubmitted, loaded.State)

	updated, err := store.UpdateTaskState(ctx, task.ID, types.TaskWorking, loaded.Version, "")
	require.NoError(t, err)
	require.Equal(t, types.TaskWorking, updated.State)

	_, err = store.UpdateTaskState(ctx, task.ID, types.TaskCompleted, loaded.Version, "")
	require.ErrorIs(t, err, ErrVersionConflict)

	require.NoError(t, store.SaveWebhookConfig(ctx, task.ID, types.WebhookConfig{URL: "https://example.com/hook"}))
	cfg, err := store.LoadWebhookConfig(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/hook", cfg.URL)

	require.NoError(t, store.DeleteTask(ctx, task.ID))
	_, err = store.LoadWebhookConfig(ctx, task.ID)
	require.ErrorIs(t, err, ErrNotFound, "webhook config must cascade-delete with its task")
}
