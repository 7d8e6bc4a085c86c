package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/runtime/pkg/types"
)

func newTestRedisScheduler(t *testing.T) (*RedisScheduler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s, err := NewRedisScheduler(ctx, RedisConfig{
		URL:         "redis://" + mr.Addr(),
		QueueName:   "test:tasks",
		PollTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

func TestRedisSchedulerConnectFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := NewRedisScheduler(ctx, RedisConfig{URL: "redis://127.0.0.1:1"})
	assert.Error(t, err)
}

func TestRedisSchedulerFIFOPerTask(t *testing.T) {
	s, _ := newTestRedisScheduler(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	taskID := uuid.New()
	require.NoError(t, s.RunTask(ctx, types.TaskSendParams{TaskID: taskID}))
	require.NoError(t, s.PauseTask(ctx, taskID))
	require.NoError(t, s.ResumeTask(ctx, taskID))
	require.NoError(t, s.CancelTask(ctx, taskID))

	ops, err := s.Operations(ctx)
	require.NoError(t, err)

	want := []OperationKind{OpRun, OpPause, OpResume, OpCancel}
	for i, k := range want {
		select {
		case op := <-ops:
			assert.Equal(t, k, op.Kind, "operation %d", i)
			assert.Equal(t, taskID, op.TaskID)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for operation %d", i)
		}
	}
}

func TestRedisSchedulerQueueDepthAndPing(t *testing.T) {
	s, _ := newTestRedisScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.RunTask(ctx, types.TaskSendParams{TaskID: uuid.New()}))
	require.NoError(t, s.RunTask(ctx, types.TaskSendParams{TaskID: uuid.New()}))

	depth, err := s.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}

func TestRedisSchedulerDropsMalformedEnvelope(t *testing.T) {
	s, mr := newTestRedisScheduler(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := mr.Lpush("test:tasks", "not json")
	require.NoError(t, err)

	taskID := uuid.New()
	require.NoError(t, s.RunTask(ctx, types.TaskSendParams{TaskID: taskID}))

	ops, err := s.Operations(ctx)
	require.NoError(t, err)

	select {
	case op := <-ops:
		assert.Equal(t, OpRun, op.Kind)
		assert.Equal(t, taskID, op.TaskID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for the well-formed operation after a malformed one")
	}
}

func TestRedisSchedulerOperationsClosesOnContextCancel(t *testing.T) {
	s, _ := newTestRedisScheduler(t)

	ctx, cancel := context.WithCancel(context.Background())
	ops, err := s.Operations(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ops:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("operations channel did not close after context cancel")
	}
}
