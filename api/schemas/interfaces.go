package schemas

import (
	"context"
	"errors"
)

// -- LLM Interfaces --

// ModelTier allows selecting a language model based on a preference for speed
// or capability.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions provides parameters to control text generation.
type GenerationOptions struct {
	Temperature     float32 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
}

// GenerationRequest encapsulates a complete request to the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// TokenUsage reports the token cost of one generation call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// GenerationResponse carries the generated content plus its usage accounting.
type GenerationResponse struct {
	Content string     `json:"content"`
	Usage   TokenUsage `json:"usage"`
}

// LLMClient is implemented by anything that can produce a completion. Every
// call site treats a failure as local: the orchestrator decides which ones
// degrade and which ones fail the task.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResponse, error)
}

// -- Knowledge Retrieval Interface --

// KnowledgeRetriever is the external document-retrieval collaborator. It is a
// pure read called once per request, before task resolution.
type KnowledgeRetriever interface {
	GetChunks(ctx context.Context, url, query, tenantID string) (*RetrievalResult, error)
}

// -- Store Interfaces --

// Sentinel errors every Repository implementation must return so the core can
// distinguish user-visible misses from infrastructure failures.
var (
	// ErrTaskNotFound is returned when no task exists for (tenant, id).
	ErrTaskNotFound = errors.New("task not found")
	// ErrDuplicateStep is returned when an action append would violate the
	// (task, stepIndex) uniqueness constraint.
	ErrDuplicateStep = errors.New("duplicate step index")
	// ErrVersionConflict is returned when an optimistic task update lost the
	// race against a concurrent writer.
	ErrVersionConflict = errors.New("task version conflict")
)

// TaskStore is the durable record of tasks.
type TaskStore interface {
	// CreateTask persists a new task and stamps CreatedAt/UpdatedAt/Version.
	CreateTask(ctx context.Context, task *Task) error
	// GetTask loads a task scoped to its tenant. Returns ErrTaskNotFound when
	// absent for this tenant.
	GetTask(ctx context.Context, tenantID, taskID string) (*Task, error)
	// UpdateTask applies a conditional update: it only succeeds when the
	// stored version matches task.Version, then bumps the version. Returns
	// ErrVersionConflict otherwise.
	UpdateTask(ctx context.Context, task *Task) error
}

// ActionStore is the append-only per-step action history.
type ActionStore interface {
	// AppendAction inserts one history entry. (taskID, stepIndex) is unique;
	// a second append for the same pair returns ErrDuplicateStep.
	AppendAction(ctx context.Context, action *TaskAction) error
	// ListActions returns all entries for a task ordered by step index.
	ListActions(ctx context.Context, taskID string) ([]TaskAction, error)
	// LatestAction returns the highest-indexed entry, or nil when the history
	// is empty.
	LatestAction(ctx context.Context, taskID string) (*TaskAction, error)
	// CountActions returns the number of history entries for a task.
	CountActions(ctx context.Context, taskID string) (int, error)
}

// VerificationStore is the append-only verification audit trail.
type VerificationStore interface {
	AppendVerification(ctx context.Context, rec *VerificationRecord) error
	ListVerifications(ctx context.Context, taskID string) ([]VerificationRecord, error)
}

// CorrectionStore is the append-only correction attempt log.
type CorrectionStore interface {
	AppendCorrection(ctx context.Context, rec *CorrectionRecord) error
	// CountCorrections returns the number of attempts recorded for a
	// (task, stepIndex) pair. This count is the authoritative retry counter.
	CountCorrections(ctx context.Context, taskID string, stepIndex int) (int, error)
	ListCorrections(ctx context.Context, taskID string) ([]CorrectionRecord, error)
}

// Repository bundles every store the task-execution core depends on.
type Repository interface {
	TaskStore
	ActionStore
	VerificationStore
	CorrectionStore
}
