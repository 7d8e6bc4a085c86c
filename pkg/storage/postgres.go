package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/taskmesh/runtime/pkg/log"
	"github.com/taskmesh/runtime/pkg/metrics"
	"github.com/taskmesh/runtime/pkg/types"
)

// PostgresStore is a Store backed by Postgres, accessed through database/sql
// via the pgx stdlib driver and wrapped with sqlx for struct scanning.
type PostgresStore struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// NewPostgresStore opens a connection pool against dsn, verifies
// connectivity, and applies any pending migrations before returning.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: connect to postgres: %w", err)
	}

	if err := Migrate(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &PostgresStore{db: db, logger: log.WithComponent("storage.postgres")}
	s.logger.Info().Msg("postgres store ready")
	return s, nil
}

func timed(op string) func() {
	timer := metrics.NewTimer()
	return func() { timer.ObserveDurationVec(metrics.StorageOpDuration, op) }
}

type taskRow struct {
	ID        uuid.UUID `db:"id"`
	ContextID uuid.UUID `db:"context_id"`
	State     string    `db:"state"`
	Error     string    `db:"error"`
	Version   int       `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r taskRow) toTask() *types.Task {
	return &types.Task{
		ID:        r.ID,
		ContextID: r.ContextID,
		State:     types.TaskState(r.State),
		Error:     r.Error,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// SaveTask implements Store.
func (s *PostgresStore) SaveTask(ctx context.Context, task *types.Task) error {
	defer timed("save_task")()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin save_task tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks (id, context_id, state, error, version, created_at, updated_at)
		 VALUES ($1, $2, $3, '', 1, $4, $4)`,
		task.ID, task.ContextID, task.State, now,
	)
	if err != nil {
		return fmt.Errorf("storage: insert task: %w", err)
	}

	for _, msg := range task.Messages {
		if err := insertMessage(ctx, tx, task.ID, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit save_task: %w", err)
	}

	task.Version = 1
	task.CreatedAt = now
	task.UpdatedAt = now
	return nil
}

func insertMessage(ctx context.Context, tx *sqlx.Tx, taskID uuid.UUID, msg types.Message) error {
	parts, err := json.Marshal(msg.Parts)
	if err != nil {
		return fmt.Errorf("storage: marshal message parts: %w", err)
	}
	messageID := msg.MessageID
	if messageID == uuid.Nil {
		messageID = uuid.New()
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, task_id, role, parts, created_at) VALUES ($1, $2, $3, $4, $5)`,
		messageID, taskID, msg.Role, parts, createdAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert message: %w", err)
	}
	return nil
}

// LoadTask implements Store.
func (s *PostgresStore) LoadTask(ctx context.Context, taskID uuid.UUID) (*types.Task, error) {
	defer timed("load_task")()

	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT id, context_id, state, error, version, created_at, updated_at FROM tasks WHERE id = $1`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load task: %w", err)
	}

	task := row.toTask()

	task.Messages, err = s.ListMessages(ctx, taskID)
	if err != nil {
		return nil, err
	}
	task.Artifacts, err = s.ListArtifacts(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateTaskState implements Store via an optimistic compare-and-set on the
// version column (§5: "state-machine transitions must be guarded by a
// Storage-level optimistic check").
func (s *PostgresStore) UpdateTaskState(ctx context.Context, taskID uuid.UUID, newState types.TaskState, expectedVersion int, taskErr string) (*types.Task, error) {
	defer timed("update_task_state")()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = $1, error = $2, version = version + 1, updated_at = NOW()
		 WHERE id = $3 AND version = $4`,
		newState, taskErr, taskID, expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: update task state: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("storage: rows affected: %w", err)
	}
	if affected == 0 {
		if _, loadErr := s.LoadTask(ctx, taskID); errors.Is(loadErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrVersionConflict
	}

	return s.LoadTask(ctx, taskID)
}

// DeleteTask implements Store. Messages, artifacts, and the webhook config
// cascade via ON DELETE CASCADE foreign keys (§3, §4.3).
func (s *PostgresStore) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	defer timed("delete_task")()

	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("storage: delete task: %w", err)
	}
	return nil
}

// AppendMessage implements Store.
func (s *PostgresStore) AppendMessage(ctx context.Context, taskID uuid.UUID, msg types.Message) error {
	defer timed("append_message")()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin append_message tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertMessage(ctx, tx, taskID, msg); err != nil {
		return err
	}
	return tx.Commit()
}

type messageRow struct {
	MessageID uuid.UUID       `db:"message_id"`
	Role      string          `db:"role"`
	Parts     json.RawMessage `db:"parts"`
	CreatedAt time.Time       `db:"created_at"`
}

// ListMessages implements Store.
func (s *PostgresStore) ListMessages(ctx context.Context, taskID uuid.UUID) ([]types.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT message_id, role, parts, created_at FROM messages WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}

	out := make([]types.Message, 0, len(rows))
	for _, r := range rows {
		var parts []types.Part
		if err := json.Unmarshal(r.Parts, &parts); err != nil {
			return nil, fmt.Errorf("storage: unmarshal message parts: %w", err)
		}
		out = append(out, types.Message{
			MessageID: r.MessageID,
			Role:      types.Role(r.Role),
			Parts:     parts,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// AppendArtifact implements Store.
func (s *PostgresStore) AppendArtifact(ctx context.Context, taskID uuid.UUID, artifact types.Artifact) error {
	defer timed("append_artifact")()

	parts, err := json.Marshal(artifact.Parts)
	if err != nil {
		return fmt.Errorf("storage: marshal artifact parts: %w", err)
	}
	artifactID := artifact.ArtifactID
	if artifactID == uuid.Nil {
		artifactID = uuid.New()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (artifact_id, task_id, name, parts, created_at) VALUES ($1, $2, $3, $4, NOW())`,
		artifactID, taskID, artifact.Name, parts,
	)
	if err != nil {
		return fmt.Errorf("storage: insert artifact: %w", err)
	}
	return nil
}

type artifactRow struct {
	ArtifactID uuid.UUID       `db:"artifact_id"`
	Name       string          `db:"name"`
	Parts      json.RawMessage `db:"parts"`
}

// ListArtifacts implements Store.
func (s *PostgresStore) ListArtifacts(ctx context.Context, taskID uuid.UUID) ([]types.Artifact, error) {
	var rows []artifactRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT artifact_id, name, parts FROM artifacts WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("storage: list artifacts: %w", err)
	}

	out := make([]types.Artifact, 0, len(rows))
	for _, r := range rows {
		var parts []types.Part
		if err := json.Unmarshal(r.Parts, &parts); err != nil {
			return nil, fmt.Errorf("storage: unmarshal artifact parts: %w", err)
		}
		out = append(out, types.Artifact{ArtifactID: r.ArtifactID, Name: r.Name, Parts: parts})
	}
	return out, nil
}

// webhookConfigBody is the JSON blob stored in webhook_configs.config — the
// schema in §4.3 treats it as opaque beyond requiring a url.
type webhookConfigBody struct {
	URL       string         `json:"url"`
	Token     string         `json:"token,omitempty"`
	Validator map[string]any `json:"validator,omitempty"`
}

// SaveWebhookConfig implements Store.
func (s *PostgresStore) SaveWebhookConfig(ctx context.Context, taskID uuid.UUID, cfg types.WebhookConfig) error {
	defer timed("save_webhook_config")()

	body, err := json.Marshal(webhookConfigBody{URL: cfg.URL, Token: cfg.Token, Validator: cfg.Validator})
	if err != nil {
		return fmt.Errorf("storage: marshal webhook config: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO webhook_configs (task_id, config, created_at, updated_at) VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (task_id) DO UPDATE SET config = EXCLUDED.config, updated_at = NOW()`,
		taskID, body,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert webhook config: %w", err)
	}
	return nil
}

type webhookConfigRow struct {
	TaskID    uuid.UUID       `db:"task_id"`
	Config    json.RawMessage `db:"config"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func (r webhookConfigRow) toConfig() (*types.WebhookConfig, error) {
	var body webhookConfigBody
	if err := json.Unmarshal(r.Config, &body); err != nil {
		return nil, fmt.Errorf("storage: unmarshal webhook config: %w", err)
	}
	return &types.WebhookConfig{
		TaskID:    r.TaskID,
		URL:       body.URL,
		Token:     body.Token,
		Validator: body.Validator,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// LoadWebhookConfig implements Store.
func (s *PostgresStore) LoadWebhookConfig(ctx context.Context, taskID uuid.UUID) (*types.WebhookConfig, error) {
	defer timed("load_webhook_config")()

	var row webhookConfigRow
	err := s.db.GetContext(ctx, &row,
		`SELECT task_id, config, created_at, updated_at FROM webhook_configs WHERE task_id = $1`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load webhook config: %w", err)
	}
	return row.toConfig()
}

// DeleteWebhookConfig implements Store. Idempotent: no error if absent.
func (s *PostgresStore) DeleteWebhookConfig(ctx context.Context, taskID uuid.UUID) error {
	defer timed("delete_webhook_config")()

	_, err := s.db.ExecContext(ctx, `DELETE FROM webhook_configs WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("storage: delete webhook config: %w", err)
	}
	return nil
}

// LoadAllWebhookConfigs implements Store.
func (s *PostgresStore) LoadAllWebhookConfigs(ctx context.Context) (map[uuid.UUID]types.WebhookConfig, error) {
	defer timed("load_all_webhook_configs")()

	var rows []webhookConfigRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT task_id, config, created_at, updated_at FROM webhook_configs`); err != nil {
		return nil, fmt.Errorf("storage: load all webhook configs: %w", err)
	}

	out := make(map[uuid.UUID]types.WebhookConfig, len(rows))
	for _, r := range rows {
		cfg, err := r.toConfig()
		if err != nil {
			return nil, err
		}
		out[r.TaskID] = *cfg
	}
	return out, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
