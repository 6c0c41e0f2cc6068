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

// Planner decomposes a task goal into an ordered plan of executable steps.
// Planning runs once, on the first round-trip of a task.
type Planner struct {
	cfg    config.AgentConfig
	logger *zap.Logger
	llm    schemas.LLMClient
}

func NewPlanner(logger *zap.Logger, client schemas.LLMClient, cfg config.AgentConfig) *Planner {
	return &Planner{
		cfg:    cfg,
		logger: logger.Named("planner"),
		llm:    client,
	}
}

type planStepResponse struct {
	Description     string `json:"description"`
	Reasoning       string `json:"reasoning"`
	Tool            string `json:"tool"`
	ExpectedOutcome string `json:"expected_outcome"`
}

type planResponse struct {
	Steps []planStepResponse `json:"steps"`
}

const plannerSystemPrompt = `You are the planning engine of an autonomous web agent.
Decompose the user's goal into a short, ordered sequence of concrete steps an agent can carry out one page interaction at a time.
Each step must name a single observable effect. Classify each step's tool:
  "DOM"    - achievable purely by interacting with the rendered page
  "SERVER" - requires a server-side capability the page does not expose
  "MIXED"  - partly both
Respond with only a JSON object: {"steps": [{"description": "...", "reasoning": "...", "tool": "DOM", "expected_outcome": "..."}]}.
Keep the plan minimal; do not pad with verification or waiting steps.`

// Plan produces a fresh plan for the task. The snapshot grounds the plan in
// what the page actually offers; knowledge chunks, when present, carry
// organization-specific procedures.
func (p *Planner) Plan(ctx context.Context, task *schemas.Task, snap *dom.Snapshot, knowledge *schemas.RetrievalResult) (*schemas.TaskPlan, schemas.TokenUsage, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\nStarting URL: %s\n\n", task.Query, task.StartURL)
	if k := renderKnowledge(knowledge); k != "" {
		b.WriteString(k)
		b.WriteString("\n")
	}
	b.WriteString("Interactable elements on the current page:\n")
	b.WriteString(renderInteractables(snap))
	fmt.Fprintf(&b, "\nCurrent page HTML (may be truncated):\n%s\n", snap.Truncated(p.cfg.DOMPromptMaxChars))
	b.WriteString("\nProduce the plan JSON now.")

	apiCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := p.llm.Generate(apiCtx, schemas.GenerationRequest{
		SystemPrompt: plannerSystemPrompt,
		UserPrompt:   b.String(),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	})
	if err != nil {
		return nil, schemas.TokenUsage{}, fmt.Errorf("plan generation failed: %w", err)
	}

	parsed, err := llmutil.ParseJSONResponse[planResponse](resp.Content)
	if err != nil {
		return nil, resp.Usage, fmt.Errorf("failed to parse plan response: %w", err)
	}
	if len(parsed.Steps) == 0 {
		return nil, resp.Usage, fmt.Errorf("plan response contained no steps")
	}

	plan := &schemas.TaskPlan{CurrentStepIndex: 0}
	for _, step := range parsed.Steps {
		desc := strings.TrimSpace(step.Description)
		if desc == "" {
			continue
		}
		status := schemas.StepStatusPending
		if len(plan.Steps) == 0 {
			status = schemas.StepStatusActive
		}
		plan.Steps = append(plan.Steps, schemas.PlanStep{
			Index:           len(plan.Steps),
			Description:     desc,
			Reasoning:       strings.TrimSpace(step.Reasoning),
			Tool:            normalizeTool(step.Tool),
			ExpectedOutcome: strings.TrimSpace(step.ExpectedOutcome),
			Status:          status,
		})
	}
	if len(plan.Steps) == 0 {
		return nil, resp.Usage, fmt.Errorf("plan response contained only empty steps")
	}

	p.logger.Info("Plan created",
		zap.String("task_id", task.ID),
		zap.Int("steps", len(plan.Steps)))
	return plan, resp.Usage, nil
}

// normalizeTool maps arbitrary LLM output onto the closed tool set,
// defaulting to DOM.
func normalizeTool(raw string) schemas.ToolType {
	switch schemas.ToolType(strings.ToUpper(strings.TrimSpace(raw))) {
	case schemas.ToolServer:
		return schemas.ToolServer
	case schemas.ToolMixed:
		return schemas.ToolMixed
	default:
		return schemas.ToolDOM
	}
}
