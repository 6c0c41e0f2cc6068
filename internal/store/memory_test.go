package store

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/10xr-agents/copilot-core/api/schemas"
)

func newTestTask(id string) *schemas.Task {
	return &schemas.Task{
		ID:       id,
		TenantID: "tenant-1",
		UserID:   "user-1",
		Query:    "do the thing",
		StartURL: "https://example.com",
		Status:   schemas.TaskStatusActive,
	}
}

func TestMemoryTaskLifecycle(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	ctx := context.Background()

	task := newTestTask("t-1")
	require.NoError(t, m.CreateTask(ctx, task))
	assert.Equal(t, int64(1), task.Version)
	assert.False(t, task.CreatedAt.IsZero())

	loaded, err := m.GetTask(ctx, "tenant-1", "t-1")
	require.NoError(t, err)
	assert.Equal(t, task.Query, loaded.Query)

	loaded.Status = schemas.TaskStatusExecuting
	require.NoError(t, m.UpdateTask(ctx, loaded))
	assert.Equal(t, int64(2), loaded.Version)

	reloaded, err := m.GetTask(ctx, "tenant-1", "t-1")
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskStatusExecuting, reloaded.Status)
}

func TestMemoryTenantIsolation(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, m.CreateTask(ctx, newTestTask("t-1")))

	_, err := m.GetTask(ctx, "other-tenant", "t-1")
	assert.ErrorIs(t, err, schemas.ErrTaskNotFound)

	_, err = m.GetTask(ctx, "tenant-1", "missing")
	assert.ErrorIs(t, err, schemas.ErrTaskNotFound)
}

func TestMemoryOptimisticVersioning(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, m.CreateTask(ctx, newTestTask("t-1")))

	// Two writers load the same version.
	a, err := m.GetTask(ctx, "tenant-1", "t-1")
	require.NoError(t, err)
	b, err := m.GetTask(ctx, "tenant-1", "t-1")
	require.NoError(t, err)

	a.StepCount = 1
	require.NoError(t, m.UpdateTask(ctx, a))

	// The loser of the race gets a conflict, not a silent overwrite.
	b.StepCount = 99
	assert.ErrorIs(t, m.UpdateTask(ctx, b), schemas.ErrVersionConflict)

	final, err := m.GetTask(ctx, "tenant-1", "t-1")
	require.NoError(t, err)
	assert.Equal(t, 1, final.StepCount)
}

func TestMemoryStoredTaskIsIsolated(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	ctx := context.Background()

	task := newTestTask("t-1")
	task.Plan = &schemas.TaskPlan{Steps: []schemas.PlanStep{{Index: 0, Description: "step one", Status: schemas.StepStatusActive}}}
	require.NoError(t, m.CreateTask(ctx, task))

	// Mutating the caller's copy must not leak into the store.
	task.Plan.Steps[0].Description = "mutated"

	loaded, err := m.GetTask(ctx, "tenant-1", "t-1")
	require.NoError(t, err)
	assert.Equal(t, "step one", loaded.Plan.Steps[0].Description)

	// Each load hands out its own copy.
	again, err := m.GetTask(ctx, "tenant-1", "t-1")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(loaded, again))
	again.Plan.Steps[0].Description = "also mutated"
	assert.Equal(t, "step one", loaded.Plan.Steps[0].Description)
}

func TestMemoryActionAppendUniqueness(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, m.AppendAction(ctx, &schemas.TaskAction{TaskID: "t-1", StepIndex: 0, Action: "click(a)"}))
	require.NoError(t, m.AppendAction(ctx, &schemas.TaskAction{TaskID: "t-1", StepIndex: 1, Action: "click(b)"}))

	err := m.AppendAction(ctx, &schemas.TaskAction{TaskID: "t-1", StepIndex: 1, Action: "click(c)"})
	assert.ErrorIs(t, err, schemas.ErrDuplicateStep)

	// The same index on a different task is fine.
	require.NoError(t, m.AppendAction(ctx, &schemas.TaskAction{TaskID: "t-2", StepIndex: 1, Action: "click(d)"}))

	count, err := m.CountActions(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryListActionsOrderedAndLatest(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	ctx := context.Background()

	// Insert out of order; reads must still come back sorted.
	require.NoError(t, m.AppendAction(ctx, &schemas.TaskAction{TaskID: "t-1", StepIndex: 2, Action: "click(c)"}))
	require.NoError(t, m.AppendAction(ctx, &schemas.TaskAction{TaskID: "t-1", StepIndex: 0, Action: "click(a)"}))
	require.NoError(t, m.AppendAction(ctx, &schemas.TaskAction{TaskID: "t-1", StepIndex: 1, Action: "click(b)"}))

	actions, err := m.ListActions(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, actions, 3)
	for i, a := range actions {
		assert.Equal(t, i, a.StepIndex)
	}

	latest, err := m.LatestAction(ctx, "t-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.StepIndex)

	empty, err := m.LatestAction(ctx, "never-seen")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestMemoryCorrectionCounting(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		require.NoError(t, m.AppendCorrection(ctx, &schemas.CorrectionRecord{
			ID: "c", TaskID: "t-1", StepIndex: 4, Attempt: i, Strategy: schemas.StrategyRetrySame,
		}))
	}
	require.NoError(t, m.AppendCorrection(ctx, &schemas.CorrectionRecord{
		ID: "c", TaskID: "t-1", StepIndex: 5, Attempt: 1, Strategy: schemas.StrategyRetrySame,
	}))

	count, err := m.CountCorrections(ctx, "t-1", 4)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = m.CountCorrections(ctx, "t-1", 9)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMemoryVerificationTrail(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, m.AppendVerification(ctx, &schemas.VerificationRecord{ID: "v-1", TaskID: "t-1", StepIndex: 0, Success: true}))
	require.NoError(t, m.AppendVerification(ctx, &schemas.VerificationRecord{ID: "v-2", TaskID: "t-1", StepIndex: 1, Success: false}))

	recs, err := m.ListVerifications(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "v-1", recs[0].ID)
	assert.False(t, recs[0].CreatedAt.IsZero())
}
