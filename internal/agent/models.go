package agent

import (
	"github.com/10xr-agents/copilot-core/api/schemas"
)

// Refinement is a deterministic action derived directly from the current
// plan step and DOM snapshot, without an LLM round-trip.
type Refinement struct {
	Thought string
	Action  ParsedAction
}

// GeneratedAction is one LLM-produced action together with its rationale and
// token accounting.
type GeneratedAction struct {
	Thought string
	Action  ParsedAction
	Raw     string
	Usage   schemas.TokenUsage
}

// CorrectionProposal is the self-correction engine's suggested recovery for
// a failed step. Action carries the replacement action when the strategy
// supplies one; CorrectedStep carries the rewritten step description.
type CorrectionProposal struct {
	Strategy      schemas.CorrectionStrategy
	Thought       string
	Action        *ParsedAction
	CorrectedStep string
	Reason        string
	Usage         schemas.TokenUsage
}
