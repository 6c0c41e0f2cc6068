package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/10xr-agents/copilot-core/api/schemas"
	"github.com/10xr-agents/copilot-core/internal/dom"
)

// Verifier checks the previous action's expected outcome against the page
// state the client just reported. It is fully deterministic: every check is
// a mechanical comparison, so a verification never costs an LLM call.
type Verifier struct {
	logger *zap.Logger
}

func NewVerifier(logger *zap.Logger) *Verifier {
	return &Verifier{logger: logger.Named("verifier")}
}

// checkResult is the outcome of one evaluated assertion.
type checkResult struct {
	label  string
	passed bool
	detail string
}

// Verify compares prev's expected outcome against the current URL and
// snapshot and returns an audit record. prev must carry an expected outcome;
// the caller guards that.
func (v *Verifier) Verify(prev *schemas.TaskAction, currentURL string, snap *dom.Snapshot) *schemas.VerificationRecord {
	outcome := prev.ExpectedOutcome
	rec := &schemas.VerificationRecord{
		ID:            uuid.NewString(),
		TaskID:        prev.TaskID,
		StepIndex:     prev.StepIndex,
		ExpectedState: outcome.Description,
		CreatedAt:     time.Now().UTC(),
	}

	var checks []checkResult

	if outcome.URLShouldChange {
		changed := currentURL != prev.URL
		checks = append(checks, checkResult{
			label:  "url_change",
			passed: changed,
			detail: fmt.Sprintf("url %q -> %q", prev.URL, currentURL),
		})
	}
	for _, a := range outcome.Assertions {
		checks = append(checks, evaluateAssertion(a, snap))
	}

	rec.ActualState = fmt.Sprintf("url=%s, %d interactable elements", currentURL, len(snap.Interactables()))

	// An outcome with nothing checkable is treated as a weak success: there
	// is no evidence of failure, but no evidence of success either.
	if len(checks) == 0 {
		rec.Success = true
		rec.Confidence = 0.4
		rec.Comparison = "no checkable assertions"
		rec.Reason = "outcome carried no assertions; accepting on absence of contrary evidence"
		return rec
	}

	passed := 0
	var lines []string
	for _, c := range checks {
		mark := "FAIL"
		if c.passed {
			passed++
			mark = "PASS"
		}
		lines = append(lines, fmt.Sprintf("%s %s: %s", mark, c.label, c.detail))
	}
	rec.Comparison = strings.Join(lines, "; ")

	if passed == len(checks) {
		rec.Success = true
		// More independent checks passing means a stronger verdict.
		rec.Confidence = 0.8 + 0.2*minf(1, float64(len(checks))/4)
		rec.Reason = fmt.Sprintf("all %d checks passed", len(checks))
		return rec
	}

	passRatio := float64(passed) / float64(len(checks))
	rec.Success = false
	rec.Confidence = 0.6 + 0.4*(1-passRatio)
	rec.Reason = fmt.Sprintf("%d of %d checks failed", len(checks)-passed, len(checks))

	v.logger.Debug("Verification failed",
		zap.String("task_id", prev.TaskID),
		zap.Int("step_index", prev.StepIndex),
		zap.String("comparison", rec.Comparison))
	return rec
}

// evaluateAssertion checks one claim against the current snapshot. Only the
// current snapshot is available, so APPEARS collapses to EXISTS and
// DISAPPEARS to ABSENT.
func evaluateAssertion(a schemas.DOMAssertion, snap *dom.Snapshot) checkResult {
	label := fmt.Sprintf("%s(%s)", a.Kind, a.Selector)
	switch a.Kind {
	case schemas.AssertElementExists, schemas.AssertElementAppears:
		ok := snap.Exists(a.Selector)
		return checkResult{label: label, passed: ok, detail: existsDetail(ok)}
	case schemas.AssertElementAbsent, schemas.AssertElementDisappears:
		ok := !snap.Exists(a.Selector)
		return checkResult{label: label, passed: ok, detail: existsDetail(!ok)}
	case schemas.AssertTextContent:
		text, found := snap.Text(a.Selector)
		if !found {
			return checkResult{label: label, passed: false, detail: "element not found"}
		}
		ok := strings.Contains(strings.ToLower(text), strings.ToLower(strings.TrimSpace(a.Text)))
		return checkResult{label: label, passed: ok, detail: fmt.Sprintf("text %q", truncateLabel(text, 80))}
	case schemas.AssertAttributeEquals:
		val, found := snap.Attr(a.Selector, a.Attribute)
		if !found {
			return checkResult{label: label, passed: false, detail: "element or attribute not found"}
		}
		ok := val == a.Value
		return checkResult{label: label, passed: ok, detail: fmt.Sprintf("%s=%q", a.Attribute, val)}
	}
	// Unknown kinds are filtered at prediction time; treat any stray one as
	// unevaluable rather than failed.
	return checkResult{label: label, passed: true, detail: "unknown assertion kind, skipped"}
}

func existsDetail(exists bool) string {
	if exists {
		return "element present"
	}
	return "element not present"
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
