package agent

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/10xr-agents/copilot-core/api/schemas"
	"github.com/10xr-agents/copilot-core/internal/dom"
)

// Refiner attempts to turn the current plan step into an executable action
// without an LLM round-trip. It succeeds only when the step's intent is
// unambiguous against the current snapshot; anything uncertain is a miss and
// falls through to the generation engine. The refiner never guesses.
type Refiner struct {
	logger *zap.Logger
}

func NewRefiner(logger *zap.Logger) *Refiner {
	return &Refiner{logger: logger.Named("refiner")}
}

var quotedTextRe = regexp.MustCompile(`["'\x60]([^"'\x60]+)["'\x60]`)

// Refine maps one plan step onto a single grammar action. The boolean result
// reports whether refinement succeeded; false means the caller must generate.
func (r *Refiner) Refine(step schemas.PlanStep, snap *dom.Snapshot) (Refinement, bool) {
	// Server-side steps are not directly executable against the DOM, so they
	// always go through generation, which can choose to fail the task or work
	// around the limitation.
	if step.Tool == schemas.ToolServer {
		return Refinement{}, false
	}

	desc := strings.ToLower(step.Description)
	verb := classifyVerb(desc)
	if verb == "" {
		return Refinement{}, false
	}

	target, ok := r.matchTarget(step.Description, snap)
	if !ok {
		return Refinement{}, false
	}

	switch verb {
	case "click":
		return Refinement{
			Thought: fmt.Sprintf("The step %q matches the %q element directly.", step.Description, target.Label()),
			Action:  ParsedAction{Kind: ActionClick, TargetID: target.ID},
		}, true
	case "scroll":
		return Refinement{
			Thought: fmt.Sprintf("Scrolling %q into view as the step describes.", target.Label()),
			Action:  ParsedAction{Kind: ActionScroll, TargetID: target.ID},
		}, true
	case "setValue":
		// Typing needs the literal text; only refine when the step quotes it.
		m := quotedTextRe.FindStringSubmatch(step.Description)
		if m == nil {
			return Refinement{}, false
		}
		if !isTextInput(target) {
			return Refinement{}, false
		}
		return Refinement{
			Thought: fmt.Sprintf("The step provides the exact text for the %q field.", target.Label()),
			Action:  ParsedAction{Kind: ActionSetValue, TargetID: target.ID, Value: m[1]},
		}, true
	}
	return Refinement{}, false
}

// classifyVerb detects an unambiguous interaction verb in the step text.
func classifyVerb(desc string) string {
	switch {
	case containsAny(desc, "click", "press the", "tap", "select the button", "choose the button"):
		return "click"
	case containsAny(desc, "type", "enter", "fill", "input", "set the value", "write"):
		return "setValue"
	case containsAny(desc, "scroll"):
		return "scroll"
	}
	return ""
}

// matchTarget finds exactly one interactable whose label or id appears in the
// step description. Zero or multiple matches are a miss.
func (r *Refiner) matchTarget(description string, snap *dom.Snapshot) (dom.Element, bool) {
	desc := strings.ToLower(description)
	var matches []dom.Element
	for _, el := range snap.Interactables() {
		label := strings.ToLower(strings.TrimSpace(el.Label()))
		if label != "" && len(label) >= 3 && strings.Contains(desc, label) {
			matches = append(matches, el)
			continue
		}
		if strings.Contains(desc, strings.ToLower(el.ID)) {
			matches = append(matches, el)
		}
	}
	if len(matches) != 1 {
		if len(matches) > 1 {
			r.logger.Debug("Refinement ambiguous, deferring to generation",
				zap.String("step", description),
				zap.Int("candidates", len(matches)))
		}
		return dom.Element{}, false
	}
	return matches[0], true
}

func isTextInput(el dom.Element) bool {
	if el.Tag == "textarea" {
		return true
	}
	if el.Tag != "input" {
		return false
	}
	switch el.Type {
	case "", "text", "email", "password", "search", "tel", "url", "number":
		return true
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
