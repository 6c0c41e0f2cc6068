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

// Predictor produces a falsifiable expected outcome for an action before the
// client executes it. Prediction uses the fast tier: it is a cheap forecast
// consumed one round-trip later by the verifier, not a decision.
type Predictor struct {
	cfg    config.AgentConfig
	logger *zap.Logger
	llm    schemas.LLMClient
}

func NewPredictor(logger *zap.Logger, client schemas.LLMClient, cfg config.AgentConfig) *Predictor {
	return &Predictor{
		cfg:    cfg,
		logger: logger.Named("predictor"),
		llm:    client,
	}
}

type predictionResponse struct {
	Description     string `json:"description"`
	URLShouldChange bool   `json:"url_should_change"`
	NextGoal        string `json:"next_goal"`
	Assertions      []struct {
		Kind      string `json:"kind"`
		Selector  string `json:"selector"`
		Text      string `json:"text"`
		Attribute string `json:"attribute"`
		Value     string `json:"value"`
	} `json:"assertions"`
}

const predictorSystemPrompt = `You are the outcome-prediction engine of an autonomous web agent.
Given an action about to be executed on a page, predict its observable effect as checkable assertions about the NEXT page state.

Assertion kinds (use only these):
  ELEMENT_EXISTS      - selector matches at least one element (fields: selector)
  ELEMENT_ABSENT      - selector matches nothing (fields: selector)
  TEXT_CONTENT        - the first match's text contains the given text (fields: selector, text)
  ATTRIBUTE_EQUALS    - the first match's attribute equals the value (fields: selector, attribute, value)
  ELEMENT_APPEARS     - an element not present before will be present (fields: selector)
  ELEMENT_DISAPPEARS  - an element present now will be gone (fields: selector)

Respond with only a JSON object:
{"description": "...", "url_should_change": false, "next_goal": "...", "assertions": [{"kind": "ELEMENT_EXISTS", "selector": "#result"}]}
Only assert what the action reliably causes. Fewer confident assertions beat many speculative ones.`

// Predict forecasts the outcome of the chosen action. Failures degrade: the
// orchestrator falls back to the plan step's declared outcome or proceeds
// without a prediction.
func (p *Predictor) Predict(ctx context.Context, task *schemas.Task, step *schemas.PlanStep, action ParsedAction, thought string, snap *dom.Snapshot) (*schemas.ExpectedOutcome, schemas.TokenUsage, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\nAction about to execute: %s\n", task.Query, action.String())
	if thought != "" {
		fmt.Fprintf(&b, "Rationale: %s\n", thought)
	}
	if step != nil {
		fmt.Fprintf(&b, "Plan step: %s\n", step.Description)
		if step.ExpectedOutcome != "" {
			fmt.Fprintf(&b, "Step's declared outcome: %s\n", step.ExpectedOutcome)
		}
	}
	fmt.Fprintf(&b, "\nCurrent page HTML (may be truncated):\n%s\n", snap.Truncated(p.cfg.DOMPromptMaxChars))
	b.WriteString("\nPredict the outcome and respond with the JSON object now.")

	apiCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := p.llm.Generate(apiCtx, schemas.GenerationRequest{
		SystemPrompt: predictorSystemPrompt,
		UserPrompt:   b.String(),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.1},
	})
	if err != nil {
		return nil, schemas.TokenUsage{}, fmt.Errorf("outcome prediction failed: %w", err)
	}

	parsed, err := llmutil.ParseJSONResponse[predictionResponse](resp.Content)
	if err != nil {
		return nil, resp.Usage, fmt.Errorf("failed to parse prediction response: %w", err)
	}

	outcome := &schemas.ExpectedOutcome{
		Description:     strings.TrimSpace(parsed.Description),
		URLShouldChange: parsed.URLShouldChange,
		NextGoal:        strings.TrimSpace(parsed.NextGoal),
	}
	for _, a := range parsed.Assertions {
		kind := schemas.DOMAssertionKind(strings.ToUpper(strings.TrimSpace(a.Kind)))
		if !knownAssertionKind(kind) {
			p.logger.Debug("Dropping assertion with unknown kind",
				zap.String("task_id", task.ID),
				zap.String("kind", a.Kind))
			continue
		}
		if strings.TrimSpace(a.Selector) == "" {
			continue
		}
		outcome.Assertions = append(outcome.Assertions, schemas.DOMAssertion{
			Kind:      kind,
			Selector:  strings.TrimSpace(a.Selector),
			Text:      a.Text,
			Attribute: strings.TrimSpace(a.Attribute),
			Value:     a.Value,
		})
	}
	return outcome, resp.Usage, nil
}

func knownAssertionKind(kind schemas.DOMAssertionKind) bool {
	switch kind {
	case schemas.AssertElementExists, schemas.AssertElementAbsent,
		schemas.AssertTextContent, schemas.AssertAttributeEquals,
		schemas.AssertElementAppears, schemas.AssertElementDisappears:
		return true
	}
	return false
}

// FallbackOutcome derives a minimal expected outcome from the plan step's
// declared outcome when live prediction is unavailable. It carries no
// assertions, so verification of it reports low confidence.
func FallbackOutcome(step *schemas.PlanStep) *schemas.ExpectedOutcome {
	if step == nil || step.ExpectedOutcome == "" {
		return nil
	}
	return &schemas.ExpectedOutcome{Description: step.ExpectedOutcome}
}
