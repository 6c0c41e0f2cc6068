package schemas

import (
	"time"
)

// -- Action History Schemas --

// DOMAssertionKind is the closed set of checks an expected outcome can make
// against the next DOM snapshot.
type DOMAssertionKind string

const (
	AssertElementExists     DOMAssertionKind = "ELEMENT_EXISTS"
	AssertElementAbsent     DOMAssertionKind = "ELEMENT_ABSENT"
	AssertTextContent       DOMAssertionKind = "TEXT_CONTENT"
	AssertAttributeEquals   DOMAssertionKind = "ATTRIBUTE_EQUALS"
	AssertElementAppears    DOMAssertionKind = "ELEMENT_APPEARS"
	AssertElementDisappears DOMAssertionKind = "ELEMENT_DISAPPEARS"
)

// DOMAssertion is a single falsifiable claim about the document. Which fields
// are meaningful depends on the kind: TEXT_CONTENT uses Selector+Text,
// ATTRIBUTE_EQUALS uses Selector+Attribute+Value, the rest use Selector only.
type DOMAssertion struct {
	Kind      DOMAssertionKind `json:"kind"`
	Selector  string           `json:"selector"`
	Text      string           `json:"text,omitempty"`
	Attribute string           `json:"attribute,omitempty"`
	Value     string           `json:"value,omitempty"`
}

// ExpectedOutcome is a structured prediction of what an action should cause.
// It is produced when the action is chosen and consumed one round-trip later
// by the verification engine.
type ExpectedOutcome struct {
	Description     string         `json:"description"`
	Assertions      []DOMAssertion `json:"assertions,omitempty"`
	URLShouldChange bool           `json:"url_should_change"`
	NextGoal        string         `json:"next_goal,omitempty"`
}

// HasEvidence reports whether the outcome carries anything the verifier can
// actually check, as opposed to a free-form description.
func (o *ExpectedOutcome) HasEvidence() bool {
	return o != nil && (len(o.Assertions) > 0 || o.URLShouldChange)
}

// TaskAction is one historical record per executed step. Records are
// append-only and immutable; StepIndex is unique within a task and increases
// contiguously from 0.
type TaskAction struct {
	TaskID    string `json:"task_id"`
	StepIndex int    `json:"step_index"`

	// Thought is the user-facing rationale; Action is the machine-parsable
	// instruction string handed to the client for execution.
	Thought string `json:"thought"`
	Action  string `json:"action"`

	ExpectedOutcome *ExpectedOutcome `json:"expected_outcome,omitempty"`

	// URL and DOMSnapshot capture the page state at the time the action was
	// chosen. URL doubles as the baseline for url-change verification.
	URL         string `json:"url,omitempty"`
	DOMSnapshot string `json:"dom_snapshot,omitempty"`

	Metrics   StepMetrics `json:"metrics"`
	CreatedAt time.Time   `json:"created_at"`
}
