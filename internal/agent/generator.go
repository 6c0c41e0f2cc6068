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

// Generator produces the next action with a full LLM round-trip. It is the
// fallback when refinement cannot resolve the current step, and the only
// path when planning is disabled.
type Generator struct {
	cfg    config.AgentConfig
	logger *zap.Logger
	llm    schemas.LLMClient
}

func NewGenerator(logger *zap.Logger, client schemas.LLMClient, cfg config.AgentConfig) *Generator {
	return &Generator{
		cfg:    cfg,
		logger: logger.Named("generator"),
		llm:    client,
	}
}

// GenerationInput carries everything the generator needs to choose one
// action. CorrectionHint, when set, steers generation after a failed step.
type GenerationInput struct {
	Task           *schemas.Task
	Step           *schemas.PlanStep
	Snapshot       *dom.Snapshot
	CurrentURL     string
	Knowledge      *schemas.RetrievalResult
	History        []schemas.TaskAction
	CorrectionHint string
}

type actionResponse struct {
	Thought string `json:"thought"`
	Action  string `json:"action"`
}

const generatorSystemPrompt = `You are the action engine of an autonomous web agent.
Given the user's goal, the plan, the page state and the history so far, choose exactly ONE next action.

` + actionGrammarPrompt + `

Respond with only a JSON object: {"thought": "why this action", "action": "the action sentence"}.
Use finish() only when the overall goal is demonstrably complete on the current page.
Use fail("...") when the goal is impossible, for example it needs a capability the page does not offer.`

// Generate asks the model for the next action and validates it against the
// grammar. A response that parses as JSON but carries an invalid action is a
// hard error; the orchestrator treats it as fatal for the task.
func (g *Generator) Generate(ctx context.Context, in GenerationInput) (GeneratedAction, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\nCurrent URL: %s\n\n", in.Task.Query, in.CurrentURL)
	if in.Step != nil {
		fmt.Fprintf(&b, "Current plan step: %s\n", in.Step.Description)
		if in.Step.Reasoning != "" {
			fmt.Fprintf(&b, "Step reasoning: %s\n", in.Step.Reasoning)
		}
		b.WriteString("\nFull plan:\n")
		b.WriteString(renderPlan(in.Task.Plan))
	}
	if in.CorrectionHint != "" {
		fmt.Fprintf(&b, "\nThe previous attempt at this step failed. Recovery guidance: %s\n", in.CorrectionHint)
	}
	if k := renderKnowledge(in.Knowledge); k != "" {
		b.WriteString("\n")
		b.WriteString(k)
	}
	b.WriteString("\nActions taken so far:\n")
	b.WriteString(renderHistory(in.History, 10))
	b.WriteString("\nInteractable elements on the current page:\n")
	b.WriteString(renderInteractables(in.Snapshot))
	fmt.Fprintf(&b, "\nCurrent page HTML (may be truncated):\n%s\n", in.Snapshot.Truncated(g.cfg.DOMPromptMaxChars))
	b.WriteString("\nChoose the next action and respond with the JSON object now.")

	apiCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := g.llm.Generate(apiCtx, schemas.GenerationRequest{
		SystemPrompt: generatorSystemPrompt,
		UserPrompt:   b.String(),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.3},
	})
	if err != nil {
		return GeneratedAction{}, fmt.Errorf("action generation failed: %w", err)
	}

	parsed, err := llmutil.ParseJSONResponse[actionResponse](resp.Content)
	if err != nil {
		return GeneratedAction{Raw: resp.Content, Usage: resp.Usage},
			Wrap(CodeInvalidActionFormat, err, "model response is not an action object")
	}

	action, err := ParseAction(parsed.Action)
	if err != nil {
		g.logger.Warn("Model produced an action outside the grammar",
			zap.String("task_id", in.Task.ID),
			zap.String("raw_action", parsed.Action))
		return GeneratedAction{Raw: resp.Content, Usage: resp.Usage},
			Wrap(CodeInvalidActionFormat, err, "generated action violates the grammar")
	}

	return GeneratedAction{
		Thought: strings.TrimSpace(parsed.Thought),
		Action:  action,
		Raw:     resp.Content,
		Usage:   resp.Usage,
	}, nil
}
