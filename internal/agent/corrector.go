package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/10xr-agents/copilot-core/api/schemas"
	"github.com/10xr-agents/copilot-core/internal/config"
	"github.com/10xr-agents/copilot-core/internal/dom"
	"github.com/10xr-agents/copilot-core/internal/llmutil"
)

// Corrector proposes a recovery when a step's verification fails. It runs
// inside the retry budget enforced by the orchestrator; the corrector itself
// only suggests.
type Corrector struct {
	cfg    config.AgentConfig
	logger *zap.Logger
	llm    schemas.LLMClient
}

func NewCorrector(logger *zap.Logger, client schemas.LLMClient, cfg config.AgentConfig) *Corrector {
	return &Corrector{
		cfg:    cfg,
		logger: logger.Named("corrector"),
		llm:    client,
	}
}

type correctionResponse struct {
	Strategy      string `json:"strategy"`
	Thought       string `json:"thought"`
	Action        string `json:"action"`
	CorrectedStep string `json:"corrected_step"`
	Reason        string `json:"reason"`
}

const correctorSystemPrompt = `You are the self-correction engine of an autonomous web agent.
A step's predicted outcome did not materialize. Diagnose why and propose ONE recovery.

Strategies (pick exactly one):
  RETRY_SAME         - the action was right; the page was likely slow or mid-update. Repeat it.
  ALTERNATIVE_ACTION - the action targeted the wrong element or used the wrong verb. Provide a different action.
  WAIT_AND_RETRY     - the page needs time; repeat the action and expect a delay.
  SIMPLIFY_STEP      - the step attempted too much. Rewrite it into a smaller step and provide its first action.

` + actionGrammarPrompt + `

Respond with only a JSON object:
{"strategy": "ALTERNATIVE_ACTION", "thought": "...", "action": "click(submit-btn)", "corrected_step": "...", "reason": "..."}
"corrected_step" is required only for SIMPLIFY_STEP. "action" must be a valid action sentence and never finish().`

// Propose asks for a recovery for the failed step. An unplanned task has no
// step to cite, so the failed action itself stands in for it. Any error, or a
// proposal whose action violates the grammar, is returned as an error; the
// orchestrator degrades by falling through to normal generation.
func (c *Corrector) Propose(ctx context.Context, task *schemas.Task, step *schemas.PlanStep, prev *schemas.TaskAction, verification *schemas.VerificationRecord, snap *dom.Snapshot, attempt int) (*CorrectionProposal, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", task.Query)
	switch {
	case step != nil:
		fmt.Fprintf(&b, "Failed step: %s\n", step.Description)
	case prev != nil:
		fmt.Fprintf(&b, "Failed step: %s (last action: %s)\n", prev.Thought, prev.Action)
	}
	fmt.Fprintf(&b, "Correction attempt: %d of %d\n", attempt, task.MaxRetriesPerStep)
	fmt.Fprintf(&b, "\nExpected: %s\nObserved: %s\nComparison: %s\n",
		verification.ExpectedState, verification.ActualState, verification.Comparison)
	b.WriteString("\nInteractable elements on the current page:\n")
	b.WriteString(renderInteractables(snap))
	fmt.Fprintf(&b, "\nCurrent page HTML (may be truncated):\n%s\n", snap.Truncated(c.cfg.DOMPromptMaxChars))
	b.WriteString("\nPropose the recovery JSON now.")

	apiCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()

	resp, err := c.llm.Generate(apiCtx, schemas.GenerationRequest{
		SystemPrompt: correctorSystemPrompt,
		UserPrompt:   b.String(),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.3},
	})
	if err != nil {
		return nil, fmt.Errorf("correction generation failed: %w", err)
	}

	parsed, err := llmutil.ParseJSONResponse[correctionResponse](resp.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse correction response: %w", err)
	}

	strategy := schemas.CorrectionStrategy(strings.ToUpper(strings.TrimSpace(parsed.Strategy)))
	if !schemas.KnownStrategy(strategy) {
		c.logger.Debug("Unknown correction strategy, defaulting to RETRY_SAME",
			zap.String("task_id", task.ID),
			zap.String("strategy", parsed.Strategy))
		strategy = schemas.StrategyRetrySame
	}

	proposal := &CorrectionProposal{
		Strategy:      strategy,
		Thought:       strings.TrimSpace(parsed.Thought),
		CorrectedStep: strings.TrimSpace(parsed.CorrectedStep),
		Reason:        strings.TrimSpace(parsed.Reason),
		Usage:         resp.Usage,
	}

	if raw := strings.TrimSpace(parsed.Action); raw != "" {
		action, err := ParseAction(raw)
		if err != nil {
			return nil, fmt.Errorf("correction proposed an invalid action %q: %w", raw, err)
		}
		if action.Kind == ActionFinish {
			// A failed step can never complete the goal.
			return nil, fmt.Errorf("correction proposed finish() for a failed step")
		}
		proposal.Action = &action
	}
	// Both retry strategies default to repeating the previous action, so a
	// missing action is only fatal for the strategies that must replace it.
	if proposal.Action == nil &&
		strategy != schemas.StrategyRetrySame && strategy != schemas.StrategyWaitAndRetry {
		return nil, fmt.Errorf("correction strategy %s carried no action", strategy)
	}
	return proposal, nil
}
