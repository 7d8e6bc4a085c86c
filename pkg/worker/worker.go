// Package worker implements the task execution loop described in
// SPEC_FULL.md §4.4: a pool of goroutines, each consuming operations from a
// Scheduler, driving a Task through its state machine, and persisting and
// notifying every transition along the way. Multiple Worker instances (or
// multiple Start calls within one) compete on the same Scheduler consumer
// with no coordination beyond what the transport already provides (§5).
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/taskmesh/runtime/pkg/events"
	"github.com/taskmesh/runtime/pkg/log"
	"github.com/taskmesh/runtime/pkg/metrics"
	"github.com/taskmesh/runtime/pkg/scheduler"
	"github.com/taskmesh/runtime/pkg/storage"
	"github.com/taskmesh/runtime/pkg/types"
)

// Pusher is the subset of push.Manager the worker needs, named
// independently so tests can supply a narrower fake.
type Pusher interface {
	NotifyStatus(ctx context.Context, taskID, contextID uuid.UUID, status types.StatusPayload, final bool) error
	NotifyArtifact(ctx context.Context, taskID, contextID uuid.UUID, artifact types.Artifact) error
}

// Config configures a Worker.
type Config struct {
	Scheduler scheduler.Scheduler
	Store     storage.Store
	Push      Pusher
	Handler   Handler

	// Broker, if set, receives a best-effort internal Event for every task
	// transition and artifact emission. Optional.
	Broker *events.Broker

	// Concurrency is the number of goroutines independently consuming
	// Scheduler.Operations. Defaults to 1.
	Concurrency int

	// ShutdownGrace bounds how long Stop waits for consumer goroutines and
	// in-flight handlers to return after Stop has canceled their context.
	// Handlers are canceled at once; they are not given this window to
	// finish uncanceled. Defaults to 20s.
	ShutdownGrace time.Duration
}

// outcome records which terminal-ish state a cancel or pause operation
// wants to land a running handler in once its context is canceled.
type outcome int

const (
	outcomeRunToCompletion outcome = iota
	outcomeCancel
	outcomePause
)

type inflight struct {
	cancel  context.CancelFunc
	mu      sync.Mutex
	outcome outcome
}

func (f *inflight) setOutcome(o outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcome = o
}

func (f *inflight) getOutcome() outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome
}

// Worker drives tasks through the state machine in §4.4. The zero value is
// not usable; construct with New.
type Worker struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	inFlight map[uuid.UUID]*inflight

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Worker. Concurrency and ShutdownGrace fall back to their
// defaults when zero.
func New(cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 20 * time.Second
	}
	if cfg.Handler == nil {
		cfg.Handler = NoopHandler{}
	}
	return &Worker{
		cfg:      cfg,
		logger:   log.WithComponent("worker"),
		inFlight: make(map[uuid.UUID]*inflight),
	}
}

// Start spawns Concurrency goroutines, each ranging over its own
// Scheduler.Operations channel, and returns immediately. Call Stop to wind
// them down.
func (w *Worker) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for i := 0; i < w.cfg.Concurrency; i++ {
		ops, err := w.cfg.Scheduler.Operations(runCtx)
		if err != nil {
			cancel()
			return err
		}
		w.wg.Add(1)
		go w.consume(runCtx, ops)
	}

	w.logger.Info().Int("concurrency", w.cfg.Concurrency).Msg("worker started")
	return nil
}

func (w *Worker) consume(ctx context.Context, ops <-chan scheduler.TaskOperation) {
	defer w.wg.Done()
	for op := range ops {
		w.dispatch(ctx, op)
	}
}

func (w *Worker) dispatch(ctx context.Context, op scheduler.TaskOperation) {
	if err := op.Validate(); err != nil {
		w.logger.Warn().Err(err).Msg("discarding malformed operation")
		return
	}

	switch op.Kind {
	case scheduler.OpRun:
		w.handleRun(ctx, *op.Run)
	case scheduler.OpCancel:
		w.handleCancel(ctx, op.TaskID)
	case scheduler.OpPause:
		w.handlePause(ctx, op.TaskID)
	case scheduler.OpResume:
		w.handleResume(ctx, op.TaskID)
	}
}

// Stop cancels every in-flight handler and waits up to ShutdownGrace for
// consumer goroutines to return.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info().Msg("worker stopped")
	case <-time.After(w.cfg.ShutdownGrace):
		w.logger.Warn().Msg("worker stop timed out waiting for in-flight handlers")
	}
}

func (w *Worker) track(taskID uuid.UUID, cancel context.CancelFunc) *inflight {
	f := &inflight{cancel: cancel, outcome: outcomeRunToCompletion}
	w.mu.Lock()
	w.inFlight[taskID] = f
	w.mu.Unlock()
	return f
}

func (w *Worker) untrack(taskID uuid.UUID) {
	w.mu.Lock()
	delete(w.inFlight, taskID)
	w.mu.Unlock()
}

func (w *Worker) lookup(taskID uuid.UUID) (*inflight, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.inFlight[taskID]
	return f, ok
}

// handleRun creates the task if it does not yet exist, appends any new
// messages, transitions it to working, and runs the handler. An operation
// against a task already in a terminal state is logged and discarded — a
// finished task does not restart because a stray run operation arrives
// after the fact.
func (w *Worker) handleRun(ctx context.Context, params types.TaskSendParams) {
	logger := w.logger.With().Str("task_id", params.TaskID.String()).Logger()

	task, err := w.cfg.Store.LoadTask(ctx, params.TaskID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		task = &types.Task{
			ID:        params.TaskID,
			ContextID: params.ContextID,
			State:     types.TaskSubmitted,
			Messages:  params.Messages,
		}
		if err := w.cfg.Store.SaveTask(ctx, task); err != nil {
			logger.Error().Err(err).Msg("failed to save new task")
			return
		}
	case err != nil:
		logger.Error().Err(err).Msg("failed to load task for run operation")
		return
	default:
		if task.State.IsTerminal() {
			logger.Warn().Str("state", string(task.State)).Msg("discarding run operation against terminal task")
			return
		}
		for _, msg := range params.Messages {
			if err := w.cfg.Store.AppendMessage(ctx, task.ID, msg); err != nil {
				logger.Error().Err(err).Msg("failed to append message")
				return
			}
		}
		task.Messages = append(task.Messages, params.Messages...)
	}

	task, err = w.cfg.Store.UpdateTaskState(ctx, task.ID, types.TaskWorking, task.Version, "")
	if err != nil {
		logger.Error().Err(err).Msg("failed to transition task to working")
		return
	}
	w.notifyTransition(ctx, task)
	w.run(ctx, task)
}

// run executes the handler for task, tracking a cancelable context so a
// concurrent cancel or pause operation can interrupt it cooperatively.
func (w *Worker) run(parent context.Context, task *types.Task) {
	taskCtx, cancel := context.WithCancel(parent)
	f := w.track(task.ID, cancel)
	defer func() {
		cancel()
		w.untrack(task.ID)
	}()

	metrics.TasksInFlight.Inc()
	defer metrics.TasksInFlight.Dec()

	timer := metrics.NewTimer()
	result, err := w.cfg.Handler.Handle(taskCtx, task, func(artifact types.Artifact) error {
		if artifact.ArtifactID == uuid.Nil {
			artifact.ArtifactID = uuid.New()
		}
		if aErr := w.cfg.Store.AppendArtifact(parent, task.ID, artifact); aErr != nil {
			return aErr
		}
		w.publish(events.EventArtifactEmitted, task.ID, artifact.Name)
		// Artifact notifications precede the step's status event (§4.4).
		return w.cfg.Push.NotifyArtifact(parent, task.ID, task.ContextID, artifact)
	})
	timer.ObserveDuration(metrics.TaskHandlerDuration)

	logger := w.logger.With().Str("task_id", task.ID.String()).Logger()

	next := types.TaskFailed
	taskErr := ""
	switch {
	case taskCtx.Err() != nil:
		switch f.getOutcome() {
		case outcomeCancel:
			next = types.TaskCanceled
		case outcomePause:
			next = types.TaskPaused
		default:
			// Stop() tore the context down mid-handler with no specific
			// operation requesting it; treat it like a cancel.
			next = types.TaskCanceled
		}
	case err != nil:
		next = types.TaskFailed
		taskErr = err.Error()
		logger.Error().Err(err).Msg("handler returned an error")
	default:
		next = result.State
		for _, msg := range result.Messages {
			if msg.MessageID == uuid.Nil {
				msg.MessageID = uuid.New()
			}
			if appendErr := w.cfg.Store.AppendMessage(parent, task.ID, msg); appendErr != nil {
				logger.Error().Err(appendErr).Msg("failed to append handler message")
			}
		}
	}

	updated, err := w.cfg.Store.UpdateTaskState(parent, task.ID, next, task.Version, taskErr)
	if err != nil {
		logger.Error().Err(err).Str("target_state", string(next)).Msg("failed to persist task transition")
		return
	}
	w.notifyTransition(parent, updated)
}

// handleCancel transitions task to canceled. A running handler is
// interrupted cooperatively; an idle task (paused, input-required,
// submitted) is transitioned directly. Terminal and unknown tasks are
// no-ops.
func (w *Worker) handleCancel(ctx context.Context, taskID uuid.UUID) {
	w.terminateIdle(ctx, taskID, outcomeCancel, types.TaskCanceled)
}

// handlePause transitions a working or input-required task to paused.
// Terminal and unknown tasks are no-ops; pausing an already-paused task is
// a no-op.
func (w *Worker) handlePause(ctx context.Context, taskID uuid.UUID) {
	w.terminateIdle(ctx, taskID, outcomePause, types.TaskPaused)
}

// terminateIdle is the shared path for cancel and pause: interrupt a
// running handler if one exists for taskID, otherwise apply the target
// state directly if the task is idle and non-terminal.
func (w *Worker) terminateIdle(ctx context.Context, taskID uuid.UUID, want outcome, target types.TaskState) {
	logger := w.logger.With().Str("task_id", taskID.String()).Logger()

	if f, ok := w.lookup(taskID); ok {
		f.setOutcome(want)
		f.cancel()
		return
	}

	task, err := w.cfg.Store.LoadTask(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Warn().Msg("discarding operation against unknown task")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to load task")
		return
	}
	if task.State.IsTerminal() || task.State == target {
		return
	}

	updated, err := w.cfg.Store.UpdateTaskState(ctx, taskID, target, task.Version, "")
	if err != nil {
		logger.Error().Err(err).Str("target_state", string(target)).Msg("failed to persist task transition")
		return
	}
	w.notifyTransition(ctx, updated)
}

// handleResume moves a paused task back to working and re-invokes the
// handler. Resuming a task that is not paused is a no-op.
func (w *Worker) handleResume(ctx context.Context, taskID uuid.UUID) {
	logger := w.logger.With().Str("task_id", taskID.String()).Logger()

	task, err := w.cfg.Store.LoadTask(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Warn().Msg("discarding resume against unknown task")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to load task")
		return
	}
	if task.State != types.TaskPaused {
		return
	}

	updated, err := w.cfg.Store.UpdateTaskState(ctx, taskID, types.TaskWorking, task.Version, "")
	if err != nil {
		logger.Error().Err(err).Msg("failed to transition task to working")
		return
	}
	w.notifyTransition(ctx, updated)
	w.run(ctx, updated)
}

func (w *Worker) notifyTransition(ctx context.Context, task *types.Task) {
	metrics.TaskTransitionsTotal.WithLabelValues(string(task.State)).Inc()
	status := types.StatusPayload{State: task.State, Error: task.Error}
	if err := w.cfg.Push.NotifyStatus(ctx, task.ID, task.ContextID, status, task.State.IsTerminal()); err != nil {
		w.logger.Warn().Err(err).Str("task_id", task.ID.String()).Msg("status notification failed")
	}
	w.publish(stateEventType(task.State), task.ID, task.Error)
}

func stateEventType(state types.TaskState) events.EventType {
	switch state {
	case types.TaskSubmitted:
		return events.EventTaskSubmitted
	case types.TaskWorking:
		return events.EventTaskWorking
	case types.TaskPaused:
		return events.EventTaskPaused
	case types.TaskCompleted:
		return events.EventTaskCompleted
	case types.TaskFailed:
		return events.EventTaskFailed
	case types.TaskCanceled:
		return events.EventTaskCanceled
	default:
		return events.EventTaskWorking
	}
}

func (w *Worker) publish(kind events.EventType, taskID uuid.UUID, message string) {
	if w.cfg.Broker == nil {
		return
	}
	w.cfg.Broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    kind,
		TaskID:  taskID,
		Message: message,
	})
}
