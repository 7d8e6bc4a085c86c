package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/runtime/pkg/scheduler"
	"github.com/taskmesh/runtime/pkg/storage"
	"github.com/taskmesh/runtime/pkg/types"
)

type recordingPusher struct {
	mu       sync.Mutex
	statuses []types.StatusPayload
}

func (p *recordingPusher) NotifyStatus(ctx context.Context, taskID, contextID uuid.UUID, status types.StatusPayload, final bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status)
	return nil
}

func (p *recordingPusher) NotifyArtifact(ctx context.Context, taskID, contextID uuid.UUID, artifact types.Artifact) error {
	return nil
}

func (p *recordingPusher) states() []types.TaskState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.TaskState, len(p.statuses))
	for i, s := range p.statuses {
		out[i] = s.State
	}
	return out
}

// blockingHandler blocks on its first invocation until ctx is canceled, and
// completes immediately on every invocation after that — enough to exercise
// a pause/resume or cancel cycle without an unbounded wait.
type blockingHandler struct {
	attempts int32
}

func (h *blockingHandler) Handle(ctx context.Context, task *types.Task, emit ArtifactEmitter) (HandlerResult, error) {
	if atomic.AddInt32(&h.attempts, 1) == 1 {
		<-ctx.Done()
		return HandlerResult{}, ctx.Err()
	}
	return HandlerResult{State: types.TaskCompleted}, nil
}

func newTestWorker(t *testing.T, handler Handler) (*Worker, scheduler.Scheduler, storage.Store, *recordingPusher) {
	t.Helper()
	sched := scheduler.NewMemoryScheduler(scheduler.MemoryConfig{Capacity: 16})
	store := storage.NewMemoryStore()
	pusher := &recordingPusher{}
	w := New(Config{
		Scheduler:     sched,
		Store:         store,
		Push:          pusher,
		Handler:       handler,
		Concurrency:   1,
		ShutdownGrace: time.Second,
	})
	return w, sched, store, pusher
}

func eventuallyState(t *testing.T, store storage.Store, taskID uuid.UUID, want types.TaskState) *types.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.LoadTask(context.Background(), taskID)
		if err == nil && task.State == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task never reached state %q", want)
	return nil
}

func TestWorkerRunToCompletion(t *testing.T) {
	w, sched, store, pusher := newTestWorker(t, NoopHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	taskID := uuid.New()
	require.NoError(t, sched.RunTask(context.Background(), types.TaskSendParams{
		TaskID:    taskID,
		ContextID: uuid.New(),
		Messages:  []types.Message{{MessageID: uuid.New(), Role: types.RoleUser}},
	}))

	eventuallyState(t, store, taskID, types.TaskCompleted)
	assert.Equal(t, []types.TaskState{types.TaskWorking, types.TaskCompleted}, pusher.states())
}

func TestWorkerEchoHandlerEmitsArtifact(t *testing.T) {
	w, sched, store, _ := newTestWorker(t, EchoHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	taskID := uuid.New()
	require.NoError(t, sched.RunTask(context.Background(), types.TaskSendParams{
		TaskID:    taskID,
		ContextID: uuid.New(),
		Messages: []types.Message{{
			MessageID: uuid.New(),
			Role:      types.RoleUser,
			Parts:     []types.Part{{Kind: types.PartText, Text: "hello"}},
		}},
	}))

	eventuallyState(t, store, taskID, types.TaskCompleted)

	artifacts, err := store.ListArtifacts(context.Background(), taskID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	require.Len(t, artifacts[0].Parts, 1)
	assert.Equal(t, "hello", artifacts[0].Parts[0].Text)
}

func TestWorkerCancelInterruptsRunningHandler(t *testing.T) {
	handler := &blockingHandler{}
	w, sched, store, _ := newTestWorker(t, handler)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	taskID := uuid.New()
	require.NoError(t, sched.RunTask(context.Background(), types.TaskSendParams{TaskID: taskID, ContextID: uuid.New()}))

	eventuallyState(t, store, taskID, types.TaskWorking)
	require.NoError(t, sched.CancelTask(context.Background(), taskID))

	eventuallyState(t, store, taskID, types.TaskCanceled)
}

func TestWorkerPauseThenResume(t *testing.T) {
	handler := &blockingHandler{}
	w, sched, store, _ := newTestWorker(t, handler)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	taskID := uuid.New()
	require.NoError(t, sched.RunTask(context.Background(), types.TaskSendParams{TaskID: taskID, ContextID: uuid.New()}))

	eventuallyState(t, store, taskID, types.TaskWorking)
	require.NoError(t, sched.PauseTask(context.Background(), taskID))
	eventuallyState(t, store, taskID, types.TaskPaused)

	require.NoError(t, sched.ResumeTask(context.Background(), taskID))
	eventuallyState(t, store, taskID, types.TaskCompleted)
}

func TestWorkerResumeOnNonPausedTaskIsNoop(t *testing.T) {
	w, sched, store, pusher := newTestWorker(t, NoopHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	taskID := uuid.New()
	require.NoError(t, sched.RunTask(context.Background(), types.TaskSendParams{TaskID: taskID, ContextID: uuid.New()}))
	eventuallyState(t, store, taskID, types.TaskCompleted)

	require.NoError(t, sched.ResumeTask(context.Background(), taskID))
	time.Sleep(50 * time.Millisecond)

	task, err := store.LoadTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, task.State, "resume on a completed task must be a no-op")
	assert.Len(t, pusher.states(), 2, "no additional status event should fire")
}

func TestWorkerCancelOnUnknownTaskIsDiscarded(t *testing.T) {
	w, sched, store, _ := newTestWorker(t, NoopHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	unknown := uuid.New()
	require.NoError(t, sched.CancelTask(context.Background(), unknown))
	time.Sleep(50 * time.Millisecond)

	_, err := store.LoadTask(context.Background(), unknown)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestWorkerCancelOnTerminalTaskIsNoop(t *testing.T) {
	w, sched, store, pusher := newTestWorker(t, NoopHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	taskID := uuid.New()
	require.NoError(t, sched.RunTask(context.Background(), types.TaskSendParams{TaskID: taskID, ContextID: uuid.New()}))
	eventuallyState(t, store, taskID, types.TaskCompleted)

	require.NoError(t, sched.CancelTask(context.Background(), taskID))
	time.Sleep(50 * time.Millisecond)

	task, err := store.LoadTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, task.State)
	assert.Len(t, pusher.states(), 2, "no additional status event should fire for a no-op cancel")
}
