package schemas

import (
	"time"
)

// -- Task Schemas --

// TaskStatus tracks a task through its lifecycle. A task is created `active`,
// moves to `executing` once a plan exists, dips into `correcting` while a
// failed step is being retried, and ends in one of the two terminal states.
type TaskStatus string

const (
	TaskStatusActive     TaskStatus = "active"
	TaskStatusExecuting  TaskStatus = "executing"
	TaskStatusCorrecting TaskStatus = "correcting"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the status accepts no further interactions.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// ToolType classifies how a plan step is expected to be carried out.
type ToolType string

const (
	ToolDOM    ToolType = "DOM"    // Executed against the rendered document.
	ToolServer ToolType = "SERVER" // Requires a server-side capability; not directly executable.
	ToolMixed  ToolType = "MIXED"  // Combination of both; resolved per action.
)

// StepStatus tracks an individual plan step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusActive    StepStatus = "active"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// PlanStep is one entry in a task's plan.
type PlanStep struct {
	Index           int        `json:"index"`
	Description     string     `json:"description"`
	Reasoning       string     `json:"reasoning,omitempty"`
	Tool            ToolType   `json:"tool"`
	ExpectedOutcome string     `json:"expected_outcome,omitempty"`
	Status          StepStatus `json:"status"`
}

// TaskPlan is the ordered decomposition of the task goal produced by the
// planning engine. CurrentStepIndex points at the step under execution and
// may run past the last step when the plan is exhausted.
type TaskPlan struct {
	Steps            []PlanStep `json:"steps"`
	CurrentStepIndex int        `json:"current_step_index"`
}

// CurrentStep returns the step under execution, if the pointer is in range.
func (p *TaskPlan) CurrentStep() (PlanStep, bool) {
	if p == nil || p.CurrentStepIndex < 0 || p.CurrentStepIndex >= len(p.Steps) {
		return PlanStep{}, false
	}
	return p.Steps[p.CurrentStepIndex], true
}

// ApplyStepTransition returns a copy of the plan with the status of the step
// at index changed. The input plan is never mutated; callers persist the
// returned value. An out-of-range index returns the plan unchanged.
func ApplyStepTransition(p TaskPlan, index int, status StepStatus) TaskPlan {
	if index < 0 || index >= len(p.Steps) {
		return p
	}
	steps := make([]PlanStep, len(p.Steps))
	copy(steps, p.Steps)
	steps[index].Status = status
	return TaskPlan{Steps: steps, CurrentStepIndex: p.CurrentStepIndex}
}

// RewriteStep returns a copy of the plan with the description of the step at
// index replaced, used by self-correction to record the corrected step text.
func RewriteStep(p TaskPlan, index int, description string, status StepStatus) TaskPlan {
	if index < 0 || index >= len(p.Steps) {
		return p
	}
	steps := make([]PlanStep, len(p.Steps))
	copy(steps, p.Steps)
	steps[index].Description = description
	steps[index].Status = status
	return TaskPlan{Steps: steps, CurrentStepIndex: p.CurrentStepIndex}
}

// StepMetrics captures the cost of producing a single action.
type StepMetrics struct {
	RequestDurationMs int64 `json:"request_duration_ms"`
	RAGDurationMs     int64 `json:"rag_duration_ms"`
	LLMDurationMs     int64 `json:"llm_duration_ms"`
	PromptTokens      int   `json:"prompt_tokens"`
	CompletionTokens  int   `json:"completion_tokens"`
}

// TaskMetrics aggregates per-step metrics over the lifetime of a task.
type TaskMetrics struct {
	TotalSteps        int   `json:"total_steps"`
	RequestDurationMs int64 `json:"request_duration_ms"`
	RAGDurationMs     int64 `json:"rag_duration_ms"`
	LLMDurationMs     int64 `json:"llm_duration_ms"`
	PromptTokens      int   `json:"prompt_tokens"`
	CompletionTokens  int   `json:"completion_tokens"`
}

// Accumulate folds one step's metrics into the task aggregates.
func (m *TaskMetrics) Accumulate(s StepMetrics) {
	m.TotalSteps++
	m.RequestDurationMs += s.RequestDurationMs
	m.RAGDurationMs += s.RAGDurationMs
	m.LLMDurationMs += s.LLMDurationMs
	m.PromptTokens += s.PromptTokens
	m.CompletionTokens += s.CompletionTokens
}

// Task is one user-initiated goal-driving session. It is created on the first
// request that carries no task id and mutated by the orchestrator on every
// subsequent round-trip. Version supports optimistic concurrency in the
// store layer: updates only apply when the stored version matches.
type Task struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`

	Query    string `json:"query"`
	StartURL string `json:"start_url"`

	Status TaskStatus `json:"status"`
	Plan   *TaskPlan  `json:"plan,omitempty"`

	ConsecutiveFailures int `json:"consecutive_failures"`
	MaxRetriesPerStep   int `json:"max_retries_per_step"`

	// StepCount mirrors the number of entries in the action history. Step
	// indices are contiguous from 0, so the next action lands at StepCount.
	StepCount int `json:"step_count"`

	Metrics TaskMetrics `json:"metrics"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
