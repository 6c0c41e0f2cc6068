package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/10xr-agents/copilot-core/api/schemas"
)

// Memory is an in-process Repository used for tests and single-node dev
// deployments. It mirrors the postgres semantics: optimistic task versioning,
// unique (task, stepIndex) appends, and value isolation (callers never share
// memory with stored records).
type Memory struct {
	mu            sync.Mutex
	tasks         map[string]*schemas.Task // keyed by task id
	actions       map[string][]schemas.TaskAction
	verifications map[string][]schemas.VerificationRecord
	corrections   map[string][]schemas.CorrectionRecord
	log           *zap.Logger
}

var _ schemas.Repository = (*Memory)(nil)

// NewMemory creates an empty in-memory repository.
func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		tasks:         make(map[string]*schemas.Task),
		actions:       make(map[string][]schemas.TaskAction),
		verifications: make(map[string][]schemas.VerificationRecord),
		corrections:   make(map[string][]schemas.CorrectionRecord),
		log:           logger.Named("store.memory"),
	}
}

func cloneTask(t *schemas.Task) *schemas.Task {
	out := *t
	if t.Plan != nil {
		plan := schemas.TaskPlan{
			Steps:            make([]schemas.PlanStep, len(t.Plan.Steps)),
			CurrentStepIndex: t.Plan.CurrentStepIndex,
		}
		copy(plan.Steps, t.Plan.Steps)
		out.Plan = &plan
	}
	return &out
}

// CreateTask stores a new task, stamping version and timestamps.
func (m *Memory) CreateTask(_ context.Context, task *schemas.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	task.Version = 1
	task.CreatedAt = now
	task.UpdatedAt = now
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

// GetTask loads a task scoped to its tenant.
func (m *Memory) GetTask(_ context.Context, tenantID, taskID string) (*schemas.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok || t.TenantID != tenantID {
		return nil, schemas.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

// UpdateTask applies a conditional update keyed on the caller's version.
func (m *Memory) UpdateTask(_ context.Context, task *schemas.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.tasks[task.ID]
	if !ok || stored.TenantID != task.TenantID {
		return schemas.ErrTaskNotFound
	}
	if stored.Version != task.Version {
		return schemas.ErrVersionConflict
	}

	task.Version++
	task.UpdatedAt = time.Now().UTC()
	task.CreatedAt = stored.CreatedAt
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

// AppendAction inserts one history entry, enforcing step uniqueness.
func (m *Memory) AppendAction(_ context.Context, action *schemas.TaskAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.actions[action.TaskID] {
		if existing.StepIndex == action.StepIndex {
			return schemas.ErrDuplicateStep
		}
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	m.actions[action.TaskID] = append(m.actions[action.TaskID], *action)
	return nil
}

// ListActions returns the history ordered by step index.
func (m *Memory) ListActions(_ context.Context, taskID string) ([]schemas.TaskAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]schemas.TaskAction, len(m.actions[taskID]))
	copy(out, m.actions[taskID])
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out, nil
}

// LatestAction returns the highest-indexed entry, or nil for empty history.
func (m *Memory) LatestAction(_ context.Context, taskID string) (*schemas.TaskAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.actions[taskID]
	if len(entries) == 0 {
		return nil, nil
	}
	latest := entries[0]
	for _, a := range entries[1:] {
		if a.StepIndex > latest.StepIndex {
			latest = a
		}
	}
	return &latest, nil
}

// CountActions returns the number of history entries for a task.
func (m *Memory) CountActions(_ context.Context, taskID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actions[taskID]), nil
}

// AppendVerification appends to the verification audit trail.
func (m *Memory) AppendVerification(_ context.Context, rec *schemas.VerificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.verifications[rec.TaskID] = append(m.verifications[rec.TaskID], *rec)
	return nil
}

// ListVerifications returns all verification records for a task in insertion
// order.
func (m *Memory) ListVerifications(_ context.Context, taskID string) ([]schemas.VerificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]schemas.VerificationRecord, len(m.verifications[taskID]))
	copy(out, m.verifications[taskID])
	return out, nil
}

// AppendCorrection appends one correction attempt.
func (m *Memory) AppendCorrection(_ context.Context, rec *schemas.CorrectionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.corrections[rec.TaskID] = append(m.corrections[rec.TaskID], *rec)
	return nil
}

// CountCorrections counts attempts for a (task, stepIndex) pair.
func (m *Memory) CountCorrections(_ context.Context, taskID string, stepIndex int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, rec := range m.corrections[taskID] {
		if rec.StepIndex == stepIndex {
			n++
		}
	}
	return n, nil
}

// ListCorrections returns all correction records for a task in insertion
// order.
func (m *Memory) ListCorrections(_ context.Context, taskID string) ([]schemas.CorrectionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]schemas.CorrectionRecord, len(m.corrections[taskID]))
	copy(out, m.corrections[taskID])
	return out, nil
}
