package types

import (
	"time"

	"github.com/google/uuid"
)

// TaskState represents the state of a task's lifecycle.
type TaskState string

const (
	TaskSubmitted     TaskState = "submitted"
	TaskWorking       TaskState = "working"
	TaskInputRequired TaskState = "input-required"
	TaskPaused        TaskState = "paused"
	TaskCompleted     TaskState = "completed"
	TaskFailed        TaskState = "failed"
	TaskCanceled      TaskState = "canceled"
)

// IsTerminal reports whether state is one of the three states a task can
// never transition out of.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled:
		return true
	default:
		return false
	}
}

// Role identifies who authored a Message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// PartKind tags the payload carried by a Part.
type PartKind string

const (
	PartText PartKind = "text"
	PartData PartKind = "data"
	PartFile PartKind = "file"
)

// Part is one tagged fragment of a Message or Artifact. Exactly one of
// Text, Data, or File is populated, matching Kind.
type Part struct {
	Kind PartKind  `json:"kind"`
	Text string    `json:"text,omitempty"`
	Data any       `json:"data,omitempty"`
	File *FilePart `json:"file,omitempty"`
}

// FilePart is the payload of a Part tagged PartFile.
type FilePart struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	URI      string `json:"uri,omitempty"`
	Bytes    []byte `json:"bytes,omitempty"`
}

// Message is one immutable turn in a task's conversation history.
type Message struct {
	MessageID uuid.UUID `json:"message_id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"created_at"`
}

// Artifact is one immutable output emitted during task execution.
type Artifact struct {
	ArtifactID uuid.UUID `json:"artifact_id"`
	Name       string    `json:"name,omitempty"`
	Parts      []Part    `json:"parts"`
}

// Task is a unit of agent work and its accumulated history.
type Task struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	ContextID uuid.UUID  `json:"context_id" db:"context_id"`
	State     TaskState  `json:"state" db:"state"`
	Messages  []Message  `json:"messages"`
	Artifacts []Artifact `json:"artifacts"`
	Error     string     `json:"error,omitempty" db:"error"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	// Version backs the optimistic compare-and-set described in §5: a
	// worker writing a transition must supply the Version it read, and
	// storage rejects the write (ErrVersionConflict) if it has moved on.
	Version int `json:"-" db:"version"`
}

// WebhookConfig is a task's registered push-notification destination,
// stored independently of its Task row (§3).
type WebhookConfig struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	TaskID    uuid.UUID      `json:"task_id" db:"task_id"`
	URL       string         `json:"url" db:"url"`
	Token     string         `json:"token,omitempty" db:"token"`
	Validator map[string]any `json:"validator,omitempty" db:"validator"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// TaskSendParams is the payload of a run operation: everything needed to
// start or resume a task.
type TaskSendParams struct {
	TaskID      uuid.UUID      `json:"task_id"`
	ContextID   uuid.UUID      `json:"context_id"`
	Messages    []Message      `json:"messages"`
	Webhook     *WebhookConfig `json:"webhook,omitempty"`
	LongRunning bool           `json:"long_running"`
}

// EventKind tags a PushEvent as a status or artifact notification.
type EventKind string

const (
	EventStatusUpdate   EventKind = "status-update"
	EventArtifactUpdate EventKind = "artifact-update"
)

// StatusPayload is the kind-specific payload of a status-update PushEvent.
type StatusPayload struct {
	State TaskState `json:"state"`
	Error string    `json:"error,omitempty"`
}

// PushEvent is one notification dispatched to a webhook.
type PushEvent struct {
	EventID   uuid.UUID      `json:"event_id"`
	Sequence  uint64         `json:"sequence"`
	TaskID    uuid.UUID      `json:"task_id"`
	ContextID uuid.UUID      `json:"context_id"`
	Kind      EventKind      `json:"kind"`
	Final     bool           `json:"final"`
	BootEpoch uuid.UUID      `json:"boot_epoch,omitempty"`
	Status    *StatusPayload `json:"status,omitempty"`
	Artifact  *Artifact      `json:"artifact,omitempty"`
}
