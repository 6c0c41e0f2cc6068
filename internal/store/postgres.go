package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/10xr-agents/copilot-core/api/schemas"
)

// DBPool abstracts pgxpool.Pool to allow mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the production Repository. Task updates are conditional on the
// stored version; the (task_id, step_index) primary key on the action table
// makes duplicate appends lose cleanly.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Repository = (*Postgres)(nil)

// NewPostgres creates a store instance and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{
		pool: pool,
		log:  logger.Named("store.postgres"),
	}, nil
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			query TEXT NOT NULL,
			start_url TEXT NOT NULL,
			status TEXT NOT NULL,
			plan JSONB,
			consecutive_failures INT NOT NULL DEFAULT 0,
			max_retries_per_step INT NOT NULL DEFAULT 3,
			step_count INT NOT NULL DEFAULT 0,
			metrics JSONB NOT NULL DEFAULT '{}',
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_actions (
			task_id TEXT NOT NULL,
			step_index INT NOT NULL,
			thought TEXT NOT NULL,
			action TEXT NOT NULL,
			expected_outcome JSONB,
			url TEXT,
			dom_snapshot TEXT,
			metrics JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (task_id, step_index)
		)`,
		`CREATE TABLE IF NOT EXISTS task_verifications (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			step_index INT NOT NULL,
			success BOOLEAN NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			expected_state TEXT,
			actual_state TEXT,
			comparison TEXT,
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_corrections (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			step_index INT NOT NULL,
			attempt INT NOT NULL,
			original_step TEXT,
			corrected_step TEXT,
			action TEXT NOT NULL,
			strategy TEXT NOT NULL,
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// CreateTask persists a new task.
func (s *Postgres) CreateTask(ctx context.Context, task *schemas.Task) error {
	now := time.Now().UTC()
	task.Version = 1
	task.CreatedAt = now
	task.UpdatedAt = now

	var planJSON []byte
	if task.Plan != nil {
		var err error
		if planJSON, err = marshalJSON(task.Plan); err != nil {
			return fmt.Errorf("failed to marshal plan: %w", err)
		}
	}
	metricsJSON, err := marshalJSON(task.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
        INSERT INTO tasks (id, tenant_id, user_id, query, start_url, status, plan, consecutive_failures, max_retries_per_step, step_count, metrics, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		task.ID, task.TenantID, task.UserID, task.Query, task.StartURL, string(task.Status),
		planJSON, task.ConsecutiveFailures, task.MaxRetriesPerStep, task.StepCount,
		metricsJSON, task.Version, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// GetTask loads a task scoped to its tenant.
func (s *Postgres) GetTask(ctx context.Context, tenantID, taskID string) (*schemas.Task, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT id, tenant_id, user_id, query, start_url, status, plan, consecutive_failures, max_retries_per_step, step_count, metrics, version, created_at, updated_at
        FROM tasks
        WHERE id = $1 AND tenant_id = $2`,
		taskID, tenantID,
	)

	var t schemas.Task
	var statusStr string
	var planJSON, metricsJSON []byte

	err := row.Scan(
		&t.ID, &t.TenantID, &t.UserID, &t.Query, &t.StartURL, &statusStr,
		&planJSON, &t.ConsecutiveFailures, &t.MaxRetriesPerStep, &t.StepCount,
		&metricsJSON, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schemas.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to scan task row: %w", err)
	}

	t.Status = schemas.TaskStatus(statusStr)
	if len(planJSON) > 0 {
		var plan schemas.TaskPlan
		if err := json.Unmarshal(planJSON, &plan); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task plan: %w", err)
		}
		t.Plan = &plan
	}
	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &t.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task metrics: %w", err)
		}
	}
	return &t, nil
}

// UpdateTask applies a version-conditional update and bumps the version.
func (s *Postgres) UpdateTask(ctx context.Context, task *schemas.Task) error {
	var planJSON []byte
	if task.Plan != nil {
		var err error
		if planJSON, err = marshalJSON(task.Plan); err != nil {
			return fmt.Errorf("failed to marshal plan: %w", err)
		}
	}
	metricsJSON, err := marshalJSON(task.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
        UPDATE tasks
        SET status = $1, plan = $2, consecutive_failures = $3, step_count = $4, metrics = $5,
            version = version + 1, updated_at = $6
        WHERE id = $7 AND tenant_id = $8 AND version = $9`,
		string(task.Status), planJSON, task.ConsecutiveFailures, task.StepCount, metricsJSON,
		now, task.ID, task.TenantID, task.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return schemas.ErrVersionConflict
	}

	task.Version++
	task.UpdatedAt = now
	return nil
}

// AppendAction inserts one history entry. The primary key rejects duplicate
// step indices; the loser of a concurrent double-append gets ErrDuplicateStep.
func (s *Postgres) AppendAction(ctx context.Context, action *schemas.TaskAction) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}

	var outcomeJSON []byte
	if action.ExpectedOutcome != nil {
		var err error
		if outcomeJSON, err = marshalJSON(action.ExpectedOutcome); err != nil {
			return fmt.Errorf("failed to marshal expected outcome: %w", err)
		}
	}
	metricsJSON, err := marshalJSON(action.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal step metrics: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
        INSERT INTO task_actions (task_id, step_index, thought, action, expected_outcome, url, dom_snapshot, metrics, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (task_id, step_index) DO NOTHING`,
		action.TaskID, action.StepIndex, action.Thought, action.Action,
		outcomeJSON, action.URL, action.DOMSnapshot, metricsJSON, action.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return schemas.ErrDuplicateStep
	}
	return nil
}

func scanAction(rows pgx.Rows) (schemas.TaskAction, error) {
	var a schemas.TaskAction
	var outcomeJSON, metricsJSON []byte

	err := rows.Scan(
		&a.TaskID, &a.StepIndex, &a.Thought, &a.Action,
		&outcomeJSON, &a.URL, &a.DOMSnapshot, &metricsJSON, &a.CreatedAt,
	)
	if err != nil {
		return schemas.TaskAction{}, fmt.Errorf("failed to scan action row: %w", err)
	}

	if len(outcomeJSON) > 0 {
		var outcome schemas.ExpectedOutcome
		if err := json.Unmarshal(outcomeJSON, &outcome); err != nil {
			return schemas.TaskAction{}, fmt.Errorf("failed to unmarshal expected outcome: %w", err)
		}
		a.ExpectedOutcome = &outcome
	}
	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &a.Metrics); err != nil {
			return schemas.TaskAction{}, fmt.Errorf("failed to unmarshal step metrics: %w", err)
		}
	}
	return a, nil
}

const actionColumns = `task_id, step_index, thought, action, expected_outcome, url, dom_snapshot, metrics, created_at`

// ListActions returns the history ordered by step index.
func (s *Postgres) ListActions(ctx context.Context, taskID string) ([]schemas.TaskAction, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT `+actionColumns+`
        FROM task_actions
        WHERE task_id = $1
        ORDER BY step_index ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var actions []schemas.TaskAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return actions, nil
}

// LatestAction returns the highest-indexed entry, or nil for empty history.
func (s *Postgres) LatestAction(ctx context.Context, taskID string) (*schemas.TaskAction, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT `+actionColumns+`
        FROM task_actions
        WHERE task_id = $1
        ORDER BY step_index DESC
        LIMIT 1`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest action: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error during row iteration: %w", err)
		}
		return nil, nil
	}
	a, err := scanAction(rows)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CountActions returns the number of history entries for a task.
func (s *Postgres) CountActions(ctx context.Context, taskID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM task_actions WHERE task_id = $1`, taskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count actions: %w", err)
	}
	return n, nil
}

// AppendVerification appends to the verification audit trail.
func (s *Postgres) AppendVerification(ctx context.Context, rec *schemas.VerificationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO task_verifications (id, task_id, step_index, success, confidence, expected_state, actual_state, comparison, reason, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.TaskID, rec.StepIndex, rec.Success, rec.Confidence,
		rec.ExpectedState, rec.ActualState, rec.Comparison, rec.Reason, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert verification: %w", err)
	}
	return nil
}

// ListVerifications returns all verification records for a task.
func (s *Postgres) ListVerifications(ctx context.Context, taskID string) ([]schemas.VerificationRecord, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, task_id, step_index, success, confidence, expected_state, actual_state, comparison, reason, created_at
        FROM task_verifications
        WHERE task_id = $1
        ORDER BY created_at ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query verifications: %w", err)
	}
	defer rows.Close()

	var recs []schemas.VerificationRecord
	for rows.Next() {
		var r schemas.VerificationRecord
		if err := rows.Scan(&r.ID, &r.TaskID, &r.StepIndex, &r.Success, &r.Confidence,
			&r.ExpectedState, &r.ActualState, &r.Comparison, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verification row: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return recs, nil
}

// AppendCorrection appends one correction attempt.
func (s *Postgres) AppendCorrection(ctx context.Context, rec *schemas.CorrectionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO task_corrections (id, task_id, step_index, attempt, original_step, corrected_step, action, strategy, reason, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.TaskID, rec.StepIndex, rec.Attempt, rec.OriginalStep,
		rec.CorrectedStep, rec.Action, string(rec.Strategy), rec.Reason, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert correction: %w", err)
	}
	return nil
}

// CountCorrections counts attempts for a (task, stepIndex) pair.
func (s *Postgres) CountCorrections(ctx context.Context, taskID string, stepIndex int) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
        SELECT COUNT(*) FROM task_corrections WHERE task_id = $1 AND step_index = $2`,
		taskID, stepIndex,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count corrections: %w", err)
	}
	return n, nil
}

// ListCorrections returns all correction records for a task.
func (s *Postgres) ListCorrections(ctx context.Context, taskID string) ([]schemas.CorrectionRecord, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, task_id, step_index, attempt, original_step, corrected_step, action, strategy, reason, created_at
        FROM task_corrections
        WHERE task_id = $1
        ORDER BY created_at ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer rows.Close()

	var recs []schemas.CorrectionRecord
	for rows.Next() {
		var r schemas.CorrectionRecord
		var strategyStr string
		if err := rows.Scan(&r.ID, &r.TaskID, &r.StepIndex, &r.Attempt, &r.OriginalStep,
			&r.CorrectedStep, &r.Action, &strategyStr, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan correction row: %w", err)
		}
		r.Strategy = schemas.CorrectionStrategy(strategyStr)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return recs, nil
}
