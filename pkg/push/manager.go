// Package push implements the push-notification manager described in
// SPEC_FULL.md §4.2: a per-task webhook config registry with a global
// fallback, a monotonic per-task sequence number, and at-least-once HTTP
// delivery guarded by a circuit breaker per destination URL.
package push

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/taskmesh/runtime/pkg/log"
	"github.com/taskmesh/runtime/pkg/metrics"
	"github.com/taskmesh/runtime/pkg/storage"
	"github.com/taskmesh/runtime/pkg/types"
)

// GlobalConfig is the manifest-level fallback webhook, used when a task has
// no task-specific config registered.
type GlobalConfig struct {
	URL   string
	Token string
}

// Config configures a Manager.
type Config struct {
	Store Store
	// PushNotificationsEnabled gates every notify_* call: if false, all
	// notify_status/notify_artifact calls are no-ops regardless of any
	// registered config (§4.2 "Capability gate").
	PushNotificationsEnabled bool
	Global                   GlobalConfig
	Deliverer                Deliverer
}

// Store is the subset of storage.Store the push manager needs, named
// independently so tests can supply a narrower fake.
type Store interface {
	SaveWebhookConfig(ctx context.Context, taskID uuid.UUID, cfg types.WebhookConfig) error
	LoadWebhookConfig(ctx context.Context, taskID uuid.UUID) (*types.WebhookConfig, error)
	DeleteWebhookConfig(ctx context.Context, taskID uuid.UUID) error
	LoadAllWebhookConfigs(ctx context.Context) (map[uuid.UUID]types.WebhookConfig, error)
}

var (
	_ Store = (*storage.MemoryStore)(nil)
	_ Store = (*storage.PostgresStore)(nil)
)

// Manager maintains the task_id -> WebhookConfig map and dispatches
// lifecycle/artifact events. The zero value is not usable; construct with
// NewManager.
type Manager struct {
	store     Store
	enabled   bool
	global    GlobalConfig
	deliverer Deliverer
	logger    zerolog.Logger

	// bootEpoch is minted once per process lifetime (§9 OQ2) and attached
	// to every dispatched event, letting a receiver detect that sequence
	// numbers restarted because the process restarted rather than because
	// an event was lost.
	bootEpoch uuid.UUID

	mu      sync.Mutex
	configs map[uuid.UUID]types.WebhookConfig
	seq     map[uuid.UUID]uint64
}

// NewManager constructs a Manager. Call Initialize once before any notify_*
// call.
func NewManager(cfg Config) *Manager {
	return &Manager{
		store:     cfg.Store,
		enabled:   cfg.PushNotificationsEnabled,
		global:    cfg.Global,
		deliverer: cfg.Deliverer,
		logger:    log.WithComponent("push"),
		bootEpoch: uuid.New(),
		configs:   make(map[uuid.UUID]types.WebhookConfig),
		seq:       make(map[uuid.UUID]uint64),
	}
}

// Initialize hydrates the in-memory config map from Storage. It is
// idempotent and safe to call more than once (a later call simply
// re-hydrates from the current storage contents).
func (m *Manager) Initialize(ctx context.Context) error {
	all, err := m.store.LoadAllWebhookConfigs(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for taskID, cfg := range all {
		m.configs[taskID] = cfg
	}
	metrics.PushConfigsRegistered.Set(float64(len(m.configs)))
	m.logger.Info().Int("configs", len(all)).Msg("push manager initialized")
	return nil
}

// RegisterPushConfig overwrites any prior config for taskID. If persist is
// true, it is written to Storage before returning.
func (m *Manager) RegisterPushConfig(ctx context.Context, taskID uuid.UUID, cfg types.WebhookConfig, persist bool) error {
	if persist {
		if err := m.store.SaveWebhookConfig(ctx, taskID, cfg); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.configs[taskID] = cfg
	metrics.PushConfigsRegistered.Set(float64(len(m.configs)))
	m.mu.Unlock()
	return nil
}

// RemovePushConfig removes the in-memory config. If deleteFromStorage is
// true, the persistent row is deleted too. Idempotent.
func (m *Manager) RemovePushConfig(ctx context.Context, taskID uuid.UUID, deleteFromStorage bool) error {
	m.mu.Lock()
	delete(m.configs, taskID)
	metrics.PushConfigsRegistered.Set(float64(len(m.configs)))
	m.mu.Unlock()

	if deleteFromStorage {
		return m.store.DeleteWebhookConfig(ctx, taskID)
	}
	return nil
}

// GetPushConfig returns the task-specific config, or nil.
func (m *Manager) GetPushConfig(taskID uuid.UUID) *types.WebhookConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[taskID]
	if !ok {
		return nil
	}
	out := cfg
	return &out
}

// GetGlobalWebhookConfig returns a synthetic config built from the manifest
// global URL+token, or nil if no global URL is configured.
func (m *Manager) GetGlobalWebhookConfig() *types.WebhookConfig {
	if m.global.URL == "" {
		return nil
	}
	return &types.WebhookConfig{URL: m.global.URL, Token: m.global.Token}
}

// GetEffectiveWebhookConfig returns the task-specific config if present,
// else the global config, else nil.
func (m *Manager) GetEffectiveWebhookConfig(taskID uuid.UUID) *types.WebhookConfig {
	if cfg := m.GetPushConfig(taskID); cfg != nil {
		return cfg
	}
	return m.GetGlobalWebhookConfig()
}

func (m *Manager) nextSequence(taskID uuid.UUID) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[taskID]++
	return m.seq[taskID]
}

// NotifyStatus resolves the effective config for taskID and, if one exists
// and the capability gate is open, dispatches a status-update event with
// the next sequence number. final marks a terminal transition; when true,
// the manager removes the task's persistent webhook config after dispatch
// (§4.2 "Finality").
func (m *Manager) NotifyStatus(ctx context.Context, taskID, contextID uuid.UUID, status types.StatusPayload, final bool) error {
	if !m.enabled {
		return nil
	}

	cfg := m.GetEffectiveWebhookConfig(taskID)
	if cfg == nil {
		return nil
	}

	event := types.PushEvent{
		EventID:   uuid.New(),
		Sequence:  m.nextSequence(taskID),
		TaskID:    taskID,
		ContextID: contextID,
		Kind:      types.EventStatusUpdate,
		Final:     final,
		BootEpoch: m.bootEpoch,
		Status:    &status,
	}

	if err := m.deliverer.Deliver(ctx, *cfg, event); err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID.String()).Msg("status notification delivery failed")
	}

	if final {
		if err := m.RemovePushConfig(ctx, taskID, true); err != nil {
			m.logger.Warn().Err(err).Str("task_id", taskID.String()).Msg("failed to clean up webhook config after finality")
		}
	}
	return nil
}

// NotifyArtifact resolves the effective config for taskID and, if one
// exists and the capability gate is open, dispatches an artifact-update
// event with the next sequence number.
func (m *Manager) NotifyArtifact(ctx context.Context, taskID, contextID uuid.UUID, artifact types.Artifact) error {
	if !m.enabled {
		return nil
	}

	cfg := m.GetEffectiveWebhookConfig(taskID)
	if cfg == nil {
		return nil
	}

	event := types.PushEvent{
		EventID:   uuid.New(),
		Sequence:  m.nextSequence(taskID),
		TaskID:    taskID,
		ContextID: contextID,
		Kind:      types.EventArtifactUpdate,
		Final:     false,
		BootEpoch: m.bootEpoch,
		Artifact:  &artifact,
	}

	if err := m.deliverer.Deliver(ctx, *cfg, event); err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID.String()).Msg("artifact notification delivery failed")
	}
	return nil
}
