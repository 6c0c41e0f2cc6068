package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/10xr-agents/copilot-core/api/schemas"
	"github.com/10xr-agents/copilot-core/internal/config"
	"github.com/10xr-agents/copilot-core/internal/dom"
	"github.com/10xr-agents/copilot-core/internal/metrics"
)

// Orchestrator drives one task round-trip: verify the previous action's
// prediction, correct if needed, then resolve, plan, refine or generate the
// next action, predict its outcome and persist everything before answering.
type Orchestrator struct {
	cfg       config.AgentConfig
	logger    *zap.Logger
	repo      schemas.Repository
	retriever schemas.KnowledgeRetriever
	metrics   *metrics.Metrics

	planner   *Planner
	refiner   *Refiner
	generator *Generator
	predictor *Predictor
	verifier  *Verifier
	corrector *Corrector

	// group collapses concurrent duplicate requests for the same task so a
	// double-submitted round-trip yields one action, not two.
	group singleflight.Group
}

func NewOrchestrator(
	logger *zap.Logger,
	cfg config.AgentConfig,
	repo schemas.Repository,
	llm schemas.LLMClient,
	retriever schemas.KnowledgeRetriever,
	m *metrics.Metrics,
) *Orchestrator {
	log := logger.Named("orchestrator")
	return &Orchestrator{
		cfg:       cfg,
		logger:    log,
		repo:      repo,
		retriever: retriever,
		metrics:   m,
		planner:   NewPlanner(logger, llm, cfg),
		refiner:   NewRefiner(logger),
		generator: NewGenerator(logger, llm, cfg),
		predictor: NewPredictor(logger, llm, cfg),
		verifier:  NewVerifier(logger),
		corrector: NewCorrector(logger, llm, cfg),
	}
}

// interaction accumulates the state of one round-trip as it moves through
// the pipeline.
type interaction struct {
	req  schemas.InteractRequest
	task *schemas.Task
	snap *dom.Snapshot

	knowledge    *schemas.RetrievalResult
	verification *schemas.VerificationRecord
	correction   *schemas.CorrectionRecord
	proposal     *CorrectionProposal

	// correctionHint is set when a correction could not produce a proposal;
	// it steers the fallback generation instead.
	correctionHint string

	started time.Time
	step    schemas.StepMetrics
}

func (in *interaction) addUsage(u schemas.TokenUsage) {
	in.step.PromptTokens += u.PromptTokens
	in.step.CompletionTokens += u.CompletionTokens
}

// Interact executes one round-trip and returns exactly one next action, or a
// typed *Error.
func (o *Orchestrator) Interact(ctx context.Context, req schemas.InteractRequest) (*schemas.NextAction, error) {
	if req.URL == "" || req.Query == "" {
		return nil, E(CodeValidation, "url and query are required")
	}

	// New tasks run directly; continuations of a known task are collapsed so
	// retried deliveries of the same round-trip share one execution.
	if req.TaskID == "" {
		return o.interact(ctx, req)
	}
	key := req.TenantID + "/" + req.TaskID
	result, err, shared := o.group.Do(key, func() (any, error) {
		return o.interact(ctx, req)
	})
	if shared {
		o.logger.Debug("Collapsed duplicate interaction", zap.String("task_id", req.TaskID))
	}
	if err != nil {
		return nil, err
	}
	return result.(*schemas.NextAction), nil
}

func (o *Orchestrator) interact(ctx context.Context, req schemas.InteractRequest) (next *schemas.NextAction, err error) {
	in := &interaction{req: req, started: time.Now()}
	defer func() {
		o.metrics.InteractDuration.Observe(time.Since(in.started).Seconds())
		if err != nil {
			o.metrics.InteractionsTotal.WithLabelValues(string(CodeOf(err))).Inc()
		} else {
			o.metrics.InteractionsTotal.WithLabelValues(string(next.Status)).Inc()
		}
	}()

	snap, perr := dom.Parse(req.DOMSnapshot)
	if perr != nil {
		return nil, Wrap(CodeValidation, perr, "dom snapshot is not parseable")
	}
	in.snap = snap

	o.retrieveKnowledge(ctx, in)

	if err := o.resolveTask(ctx, in); err != nil {
		return nil, err
	}

	if err := o.verifyPrevious(ctx, in); err != nil {
		return nil, err
	}

	if in.task.StepCount >= o.cfg.MaxSteps {
		return nil, o.failTask(ctx, in, E(CodeStepLimitExceeded,
			"task exceeded the %d step ceiling without finishing", o.cfg.MaxSteps))
	}

	o.ensurePlan(ctx, in)

	return o.produceAction(ctx, in)
}

// -- Task resolution --

func (o *Orchestrator) resolveTask(ctx context.Context, in *interaction) error {
	if in.req.TaskID == "" {
		now := time.Now().UTC()
		task := &schemas.Task{
			ID:                uuid.NewString(),
			TenantID:          in.req.TenantID,
			UserID:            in.req.UserID,
			Query:             in.req.Query,
			StartURL:          in.req.URL,
			Status:            schemas.TaskStatusActive,
			MaxRetriesPerStep: o.cfg.MaxRetriesPerStep,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := o.repo.CreateTask(ctx, task); err != nil {
			return Wrap(CodeStoreFailure, err, "failed to create task")
		}
		o.logger.Info("Task created",
			zap.String("task_id", task.ID),
			zap.String("tenant_id", task.TenantID),
			zap.String("query", task.Query))
		in.task = task
		return nil
	}

	task, err := o.repo.GetTask(ctx, in.req.TenantID, in.req.TaskID)
	if err != nil {
		if errors.Is(err, schemas.ErrTaskNotFound) {
			return Wrap(CodeTaskNotFound, err, "task %s", in.req.TaskID)
		}
		return Wrap(CodeStoreFailure, err, "failed to load task %s", in.req.TaskID)
	}
	switch task.Status {
	case schemas.TaskStatusCompleted:
		return E(CodeTaskComplete, "task %s already completed", task.ID)
	case schemas.TaskStatusFailed:
		return E(CodeTaskFailed, "task %s already failed", task.ID)
	}
	in.task = task
	return nil
}

// -- Knowledge retrieval (degradable) --

// retrieveKnowledge runs once per request, before the task is resolved; it
// only needs the request itself.
func (o *Orchestrator) retrieveKnowledge(ctx context.Context, in *interaction) {
	if o.retriever == nil {
		return
	}
	start := time.Now()
	result, err := o.retriever.GetChunks(ctx, in.req.URL, in.req.Query, in.req.TenantID)
	in.step.RAGDurationMs = time.Since(start).Milliseconds()
	if err != nil {
		// Retrieval is advisory. The round-trip continues without it.
		o.logger.Warn("Knowledge retrieval failed, continuing without it",
			zap.String("task_id", in.req.TaskID),
			zap.Error(err))
		return
	}
	in.knowledge = result
}

// -- Verification & correction --

// verifyPrevious checks the last action's prediction against the state the
// client just reported and, on failure, runs the bounded correction path. A
// returned error is fatal for the task.
func (o *Orchestrator) verifyPrevious(ctx context.Context, in *interaction) error {
	if !o.cfg.PredictionEnabled {
		return nil
	}
	prev, err := o.repo.LatestAction(ctx, in.task.ID)
	if err != nil {
		return Wrap(CodeStoreFailure, err, "failed to load action history")
	}
	if prev == nil || prev.ExpectedOutcome == nil {
		return nil
	}

	// An action is verified at most once. If an earlier round-trip recorded a
	// verdict for this step but died before finishing, that verdict stands.
	trail, err := o.repo.ListVerifications(ctx, in.task.ID)
	if err != nil {
		return Wrap(CodeStoreFailure, err, "failed to load verification trail")
	}
	var rec *schemas.VerificationRecord
	for i := range trail {
		if trail[i].StepIndex == prev.StepIndex {
			rec = &trail[i]
			break
		}
	}
	if rec == nil {
		rec = o.verifier.Verify(prev, in.req.URL, in.snap)
		if err := o.repo.AppendVerification(ctx, rec); err != nil {
			// The verdict still steers this round-trip even if the audit write
			// was lost.
			o.logger.Warn("Failed to persist verification record",
				zap.String("task_id", in.task.ID),
				zap.Error(err))
		}
		o.metrics.VerificationsTotal.WithLabelValues(fmt.Sprintf("%t", rec.Success)).Inc()
	}
	in.verification = rec

	if rec.Success {
		in.task.ConsecutiveFailures = 0
		o.advancePlan(in)
		return nil
	}

	in.task.ConsecutiveFailures++
	if in.task.ConsecutiveFailures >= o.cfg.MaxConsecutiveFailures {
		return o.failTask(ctx, in, E(CodeConsecutiveFailures,
			"%d consecutive verification failures", in.task.ConsecutiveFailures))
	}
	return o.correct(ctx, in, prev, rec)
}

// correct enforces the per-step retry budget and asks the corrector for a
// recovery. A proposal short-circuits normal action selection; a corrector
// miss degrades into hinted generation.
func (o *Orchestrator) correct(ctx context.Context, in *interaction, prev *schemas.TaskAction, rec *schemas.VerificationRecord) error {
	failedStep := o.currentPlanStep(in.task)

	// Every retry lands in the history at a fresh index, but the whole chain
	// belongs to one logical step: the plan only advances on a verified
	// success, which also resets the failure counter. The chain therefore
	// started ConsecutiveFailures-1 entries back, and that index keys the
	// retry budget so repeated failures of the same step accumulate.
	stepIndex := prev.StepIndex - (in.task.ConsecutiveFailures - 1)
	if stepIndex < 0 {
		stepIndex = 0
	}

	attempts, err := o.repo.CountCorrections(ctx, in.task.ID, stepIndex)
	if err != nil {
		return Wrap(CodeStoreFailure, err, "failed to count correction attempts")
	}
	attempt := attempts + 1
	if attempt > in.task.MaxRetriesPerStep {
		return o.failTask(ctx, in, E(CodeMaxRetriesExceeded,
			"step %d failed after %d correction attempts", stepIndex, attempts))
	}

	in.task.Status = schemas.TaskStatusCorrecting
	if failedStep != nil && in.task.Plan != nil {
		plan := schemas.ApplyStepTransition(*in.task.Plan, failedStep.Index, schemas.StepStatusFailed)
		in.task.Plan = &plan
	}

	start := time.Now()
	proposal, err := o.corrector.Propose(ctx, in.task, failedStep, prev, rec, in.snap, attempt)
	in.step.LLMDurationMs += time.Since(start).Milliseconds()
	if err != nil {
		// Correction is best-effort: a miss falls through to normal
		// generation carrying the failure as a hint.
		o.logger.Warn("Correction proposal unavailable, falling back to generation",
			zap.String("task_id", in.task.ID),
			zap.Int("step_index", stepIndex),
			zap.Error(err))
		in.correctionHint = fmt.Sprintf("previous attempt failed: %s", rec.Reason)
		o.reactivateStep(in)
		return nil
	}
	in.addUsage(proposal.Usage)

	// RETRY strategies without an explicit action repeat the previous one.
	if proposal.Action == nil {
		prevAction, perr := ParseAction(prev.Action)
		if perr != nil {
			in.correctionHint = fmt.Sprintf("previous attempt failed: %s", rec.Reason)
			o.reactivateStep(in)
			return nil
		}
		proposal.Action = &prevAction
	}

	record := &schemas.CorrectionRecord{
		ID:        uuid.NewString(),
		TaskID:    in.task.ID,
		StepIndex: stepIndex,
		Attempt:   attempt,
		Action:    proposal.Action.String(),
		Strategy:  proposal.Strategy,
		Reason:    proposal.Reason,
		CreatedAt: time.Now().UTC(),
	}
	if failedStep != nil {
		record.OriginalStep = failedStep.Description
		if proposal.Strategy == schemas.StrategySimplify && proposal.CorrectedStep != "" {
			record.CorrectedStep = proposal.CorrectedStep
			plan := schemas.RewriteStep(*in.task.Plan, failedStep.Index, proposal.CorrectedStep, schemas.StepStatusActive)
			in.task.Plan = &plan
		}
	}
	if err := o.repo.AppendCorrection(ctx, record); err != nil {
		return Wrap(CodeStoreFailure, err, "failed to persist correction record")
	}
	o.metrics.CorrectionsTotal.WithLabelValues(string(proposal.Strategy)).Inc()

	in.correction = record
	in.proposal = proposal
	o.reactivateStep(in)
	return nil
}

// reactivateStep puts a failed plan step back to active for the retry.
func (o *Orchestrator) reactivateStep(in *interaction) {
	if in.task.Plan == nil {
		return
	}
	if step, ok := in.task.Plan.CurrentStep(); ok && step.Status == schemas.StepStatusFailed {
		plan := schemas.ApplyStepTransition(*in.task.Plan, step.Index, schemas.StepStatusActive)
		in.task.Plan = &plan
	}
}

// advancePlan marks the current step completed and activates the next one.
func (o *Orchestrator) advancePlan(in *interaction) {
	if in.task.Plan == nil {
		return
	}
	step, ok := in.task.Plan.CurrentStep()
	if !ok {
		return
	}
	plan := schemas.ApplyStepTransition(*in.task.Plan, step.Index, schemas.StepStatusCompleted)
	plan.CurrentStepIndex++
	if next, ok := plan.CurrentStep(); ok {
		plan = schemas.ApplyStepTransition(plan, next.Index, schemas.StepStatusActive)
	}
	in.task.Plan = &plan
}

func (o *Orchestrator) currentPlanStep(task *schemas.Task) *schemas.PlanStep {
	if task.Plan == nil {
		return nil
	}
	if step, ok := task.Plan.CurrentStep(); ok {
		return &step
	}
	return nil
}

// -- Planning (degradable) --

func (o *Orchestrator) ensurePlan(ctx context.Context, in *interaction) {
	if !o.cfg.PlanningEnabled || in.task.Plan != nil {
		return
	}
	start := time.Now()
	plan, usage, err := o.planner.Plan(ctx, in.task, in.snap, in.knowledge)
	in.step.LLMDurationMs += time.Since(start).Milliseconds()
	in.addUsage(usage)
	if err != nil {
		// The task can still proceed step by step without a plan.
		o.logger.Warn("Planning failed, continuing unplanned",
			zap.String("task_id", in.task.ID),
			zap.Error(err))
		return
	}
	in.task.Plan = plan
	in.task.Status = schemas.TaskStatusExecuting
}

// -- Action production --

func (o *Orchestrator) produceAction(ctx context.Context, in *interaction) (*schemas.NextAction, error) {
	var (
		thought string
		action  ParsedAction
	)

	switch {
	case in.proposal != nil:
		// The correction short-circuit: the proposed recovery is the action.
		thought = in.proposal.Thought
		action = *in.proposal.Action

	default:
		step := o.currentPlanStep(in.task)
		if step != nil && in.correctionHint == "" {
			if refined, ok := o.refiner.Refine(*step, in.snap); ok {
				thought = refined.Thought
				action = refined.Action
				break
			}
		}
		start := time.Now()
		generated, err := o.generator.Generate(ctx, GenerationInput{
			Task:           in.task,
			Step:           step,
			Snapshot:       in.snap,
			CurrentURL:     in.req.URL,
			Knowledge:      in.knowledge,
			History:        o.loadHistory(ctx, in.task.ID),
			CorrectionHint: in.correctionHint,
		})
		in.step.LLMDurationMs += time.Since(start).Milliseconds()
		in.addUsage(generated.Usage)
		if err != nil {
			var ae *Error
			if errors.As(err, &ae) && ae.Code == CodeInvalidActionFormat {
				return nil, o.failTask(ctx, in, ae)
			}
			return nil, o.failTask(ctx, in, Wrap(CodeGenerationError, err, "could not generate next action"))
		}
		thought = generated.Thought
		action = generated.Action
	}

	return o.emit(ctx, in, thought, action)
}

func (o *Orchestrator) loadHistory(ctx context.Context, taskID string) []schemas.TaskAction {
	history, err := o.repo.ListActions(ctx, taskID)
	if err != nil {
		o.logger.Warn("Failed to load action history for prompt", zap.String("task_id", taskID), zap.Error(err))
		return nil
	}
	return history
}

// emit finalizes the round-trip: predict the outcome, append the action to
// the history, persist the task and build the response.
func (o *Orchestrator) emit(ctx context.Context, in *interaction, thought string, action ParsedAction) (*schemas.NextAction, error) {
	switch action.Kind {
	case ActionFinish:
		in.task.Status = schemas.TaskStatusCompleted
	case ActionFail:
		in.task.Status = schemas.TaskStatusFailed
	default:
		if in.task.Status == schemas.TaskStatusActive {
			in.task.Status = schemas.TaskStatusExecuting
		}
	}

	step := o.currentPlanStep(in.task)

	// Terminal actions have no next state to predict.
	var outcome *schemas.ExpectedOutcome
	if o.cfg.PredictionEnabled && !action.Terminal() {
		start := time.Now()
		predicted, usage, err := o.predictor.Predict(ctx, in.task, step, action, thought, in.snap)
		in.step.LLMDurationMs += time.Since(start).Milliseconds()
		in.addUsage(usage)
		if err != nil {
			// Prediction degrades to the plan step's declared outcome; the
			// next round-trip simply has less to verify.
			o.logger.Warn("Outcome prediction failed, using fallback",
				zap.String("task_id", in.task.ID),
				zap.Error(err))
			outcome = FallbackOutcome(step)
		} else {
			outcome = predicted
		}
	}

	// An action without an outcome will never be verified, so nothing would
	// ever move the plan pointer past its step. It advances now instead of
	// waiting for a verification that cannot come.
	if outcome == nil && !action.Terminal() {
		o.advancePlan(in)
	}

	in.step.RequestDurationMs = time.Since(in.started).Milliseconds()

	record := &schemas.TaskAction{
		TaskID:          in.task.ID,
		StepIndex:       in.task.StepCount,
		Thought:         thought,
		Action:          action.String(),
		ExpectedOutcome: outcome,
		URL:             in.req.URL,
		DOMSnapshot:     in.req.DOMSnapshot,
		Metrics:         in.step,
		CreatedAt:       time.Now().UTC(),
	}
	if err := o.repo.AppendAction(ctx, record); err != nil {
		if errors.Is(err, schemas.ErrDuplicateStep) {
			// A concurrent writer landed this step first. The response is
			// still coherent, so answer rather than error.
			o.logger.Warn("Step index already taken, continuing",
				zap.String("task_id", in.task.ID),
				zap.Int("step_index", record.StepIndex))
		} else {
			return nil, Wrap(CodeStoreFailure, err, "failed to append action")
		}
	}
	o.metrics.ActionsTotal.WithLabelValues(string(action.Kind)).Inc()
	o.metrics.ObserveTokens(in.step.PromptTokens, in.step.CompletionTokens)

	in.task.StepCount++
	in.task.Metrics.Accumulate(in.step)
	in.task.UpdatedAt = time.Now().UTC()
	if err := o.repo.UpdateTask(ctx, in.task); err != nil {
		if in.task.Status.Terminal() {
			// Losing a terminal transition would leave the task runnable
			// forever, so this one must not be swallowed.
			return nil, Wrap(CodeStoreFailure, err, "failed to persist terminal task state")
		}
		o.logger.Warn("Failed to persist task state",
			zap.String("task_id", in.task.ID),
			zap.Error(err))
	}

	return &schemas.NextAction{
		TaskID:          in.task.ID,
		Thought:         thought,
		Action:          action.String(),
		Status:          in.task.Status,
		Plan:            in.task.Plan,
		Verification:    in.verification,
		Correction:      in.correction,
		ExpectedOutcome: outcome,
		Metrics:         in.step,
	}, nil
}

// failTask transitions the task to failed, persists it best-effort and
// returns the causing error for the caller.
func (o *Orchestrator) failTask(ctx context.Context, in *interaction, cause *Error) *Error {
	in.task.Status = schemas.TaskStatusFailed
	in.task.UpdatedAt = time.Now().UTC()
	if err := o.repo.UpdateTask(ctx, in.task); err != nil {
		o.logger.Error("Failed to persist task failure",
			zap.String("task_id", in.task.ID),
			zap.Error(err))
	}
	o.logger.Info("Task failed",
		zap.String("task_id", in.task.ID),
		zap.String("code", string(cause.Code)),
		zap.String("reason", cause.Message))
	return cause
}
