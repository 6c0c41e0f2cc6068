package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/10xr-agents/copilot-core/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for
// more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockedStore(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := NewPostgres(context.Background(), mockPool, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s, mockPool
}

func TestNewPostgresPingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = NewPostgres(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresCreateTask(t *testing.T) {
	s, mockPool := newMockedStore(t)

	mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO tasks`)).
		WithArgs("t-1", "tenant-1", "user-1", "do it", "https://example.com", "active",
			pgxmock.AnyArg(), 0, 3, 0, pgxmock.AnyArg(), int64(1), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	task := &schemas.Task{
		ID:                "t-1",
		TenantID:          "tenant-1",
		UserID:            "user-1",
		Query:             "do it",
		StartURL:          "https://example.com",
		Status:            schemas.TaskStatusActive,
		MaxRetriesPerStep: 3,
	}
	require.NoError(t, s.CreateTask(context.Background(), task))
	assert.Equal(t, int64(1), task.Version)
	assert.False(t, task.CreatedAt.IsZero())
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresGetTask(t *testing.T) {
	s, mockPool := newMockedStore(t)
	now := time.Now().UTC()

	columns := []string{"id", "tenant_id", "user_id", "query", "start_url", "status", "plan",
		"consecutive_failures", "max_retries_per_step", "step_count", "metrics", "version", "created_at", "updated_at"}

	planJSON := []byte(`{"steps":[{"index":0,"description":"log in","tool":"DOM","status":"active"}],"current_step_index":0}`)
	metricsJSON := []byte(`{"total_steps":1,"prompt_tokens":12}`)

	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT id, tenant_id, user_id, query, start_url, status, plan, consecutive_failures, max_retries_per_step, step_count, metrics, version, created_at, updated_at
        FROM tasks`)).
		WithArgs("t-1", "tenant-1").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("t-1", "tenant-1", "user-1", "do it", "https://example.com", "executing",
				planJSON, 1, 3, 1, metricsJSON, int64(4), now, now))

	task, err := s.GetTask(context.Background(), "tenant-1", "t-1")
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskStatusExecuting, task.Status)
	require.NotNil(t, task.Plan)
	assert.Equal(t, "log in", task.Plan.Steps[0].Description)
	assert.Equal(t, 12, task.Metrics.PromptTokens)
	assert.Equal(t, int64(4), task.Version)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresGetTaskNotFound(t *testing.T) {
	s, mockPool := newMockedStore(t)

	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT`)).
		WithArgs("missing", "tenant-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetTask(context.Background(), "tenant-1", "missing")
	assert.ErrorIs(t, err, schemas.ErrTaskNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresUpdateTaskVersionConflict(t *testing.T) {
	s, mockPool := newMockedStore(t)

	mockPool.ExpectExec(flexibleSQLMatcher(`UPDATE tasks`)).
		WithArgs("failed", pgxmock.AnyArg(), 0, 1, pgxmock.AnyArg(), pgxmock.AnyArg(),
			"t-1", "tenant-1", int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	task := &schemas.Task{
		ID:        "t-1",
		TenantID:  "tenant-1",
		Status:    schemas.TaskStatusFailed,
		StepCount: 1,
		Version:   3,
	}
	err := s.UpdateTask(context.Background(), task)
	assert.ErrorIs(t, err, schemas.ErrVersionConflict)
	// The caller's version must stay untouched on conflict.
	assert.Equal(t, int64(3), task.Version)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresUpdateTaskBumpsVersion(t *testing.T) {
	s, mockPool := newMockedStore(t)

	mockPool.ExpectExec(flexibleSQLMatcher(`UPDATE tasks`)).
		WithArgs("executing", pgxmock.AnyArg(), 0, 2, pgxmock.AnyArg(), pgxmock.AnyArg(),
			"t-1", "tenant-1", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	task := &schemas.Task{
		ID:        "t-1",
		TenantID:  "tenant-1",
		Status:    schemas.TaskStatusExecuting,
		StepCount: 2,
		Version:   1,
	}
	require.NoError(t, s.UpdateTask(context.Background(), task))
	assert.Equal(t, int64(2), task.Version)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresAppendActionDuplicateStep(t *testing.T) {
	s, mockPool := newMockedStore(t)

	// ON CONFLICT DO NOTHING reports zero affected rows for the loser.
	mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO task_actions`)).
		WithArgs("t-1", 2, "", "click(a)", pgxmock.AnyArg(), "", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.AppendAction(context.Background(), &schemas.TaskAction{TaskID: "t-1", StepIndex: 2, Action: "click(a)"})
	assert.ErrorIs(t, err, schemas.ErrDuplicateStep)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresLatestAction(t *testing.T) {
	s, mockPool := newMockedStore(t)
	now := time.Now().UTC()

	columns := []string{"task_id", "step_index", "thought", "action", "expected_outcome", "url", "dom_snapshot", "metrics", "created_at"}
	outcomeJSON := []byte(`{"description":"dashboard loads","url_should_change":true}`)

	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT task_id, step_index`)).
		WithArgs("t-1").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("t-1", 5, "thinking", "click(go)", outcomeJSON, "https://example.com", "<html></html>", []byte(`{}`), now))

	latest, err := s.LatestAction(context.Background(), "t-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 5, latest.StepIndex)
	require.NotNil(t, latest.ExpectedOutcome)
	assert.True(t, latest.ExpectedOutcome.URLShouldChange)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresLatestActionEmptyHistory(t *testing.T) {
	s, mockPool := newMockedStore(t)

	columns := []string{"task_id", "step_index", "thought", "action", "expected_outcome", "url", "dom_snapshot", "metrics", "created_at"}
	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT task_id, step_index`)).
		WithArgs("t-1").
		WillReturnRows(pgxmock.NewRows(columns))

	latest, err := s.LatestAction(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Nil(t, latest)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresCountCorrections(t *testing.T) {
	s, mockPool := newMockedStore(t)

	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT COUNT(*) FROM task_corrections`)).
		WithArgs("t-1", 4).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	n, err := s.CountCorrections(context.Background(), "t-1", 4)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresEnsureSchema(t *testing.T) {
	s, mockPool := newMockedStore(t)

	for i := 0; i < 4; i++ {
		mockPool.ExpectExec(flexibleSQLMatcher(`CREATE TABLE IF NOT EXISTS`)).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
