package agent

import (
	"fmt"
	"strings"

	"github.com/10xr-agents/copilot-core/api/schemas"
	"github.com/10xr-agents/copilot-core/internal/dom"
)

// -- Shared prompt rendering --

const actionGrammarPrompt = `Actions must be a single sentence in exactly one of these forms:
  click(<element_id>)           - click the element with that id
  setValue(<element_id>, "<text>") - clear the field and type the text
  scroll(<element_id>)          - scroll the element into view
  finish()                      - the overall goal is fully achieved
  fail("<reason>")              - the goal cannot be achieved; explain why
Element ids must be taken verbatim from the provided elements. Never invent ids.`

// renderKnowledge flattens retrieved organization knowledge into a prompt
// section. Returns "" when there is nothing usable.
func renderKnowledge(result *schemas.RetrievalResult) string {
	if result == nil || len(result.Chunks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant organization knowledge:\n")
	for i, chunk := range result.Chunks {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(chunk.Content))
	}
	return b.String()
}

// renderInteractables lists the id-addressable elements of a snapshot, one
// per line, for the LLM to pick targets from.
func renderInteractables(snap *dom.Snapshot) string {
	elements := snap.Interactables()
	if len(elements) == 0 {
		return "(no interactable elements with ids found)"
	}
	var b strings.Builder
	for _, el := range elements {
		fmt.Fprintf(&b, "- id=%s tag=%s", el.ID, el.Tag)
		if el.Type != "" {
			fmt.Fprintf(&b, " type=%s", el.Type)
		}
		if label := el.Label(); label != "" && label != el.ID {
			fmt.Fprintf(&b, " label=%q", truncateLabel(label, 80))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderHistory summarizes prior steps so the model does not repeat itself.
func renderHistory(actions []schemas.TaskAction, limit int) string {
	if len(actions) == 0 {
		return "(no previous actions)"
	}
	if limit > 0 && len(actions) > limit {
		actions = actions[len(actions)-limit:]
	}
	var b strings.Builder
	for _, a := range actions {
		fmt.Fprintf(&b, "step %d: %s", a.StepIndex, a.Action)
		if a.Thought != "" {
			fmt.Fprintf(&b, " (%s)", truncateLabel(a.Thought, 120))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderPlan shows the full plan with the current step marked.
func renderPlan(plan *schemas.TaskPlan) string {
	if plan == nil || len(plan.Steps) == 0 {
		return "(no plan)"
	}
	var b strings.Builder
	for _, step := range plan.Steps {
		marker := " "
		if step.Index == plan.CurrentStepIndex {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s %d. [%s] %s\n", marker, step.Index, step.Status, step.Description)
	}
	return b.String()
}

func truncateLabel(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
