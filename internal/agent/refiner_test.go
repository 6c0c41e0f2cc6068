package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/10xr-agents/copilot-core/api/schemas"
)

const loginPageHTML = `<html><body>
	<form>
		<input id="username" type="text" placeholder="Username">
		<input id="password" type="password" placeholder="Password">
		<button id="login-btn">Log in</button>
		<a id="forgot" href="/reset">Forgot password?</a>
	</form>
	<div id="promo">Check our new offers</div>
</body></html>`

func TestRefineClickByLabel(t *testing.T) {
	r := NewRefiner(zaptest.NewLogger(t))
	snap := mustSnapshot(t, loginPageHTML)

	step := schemas.PlanStep{Description: `Click the "Log in" button`, Tool: schemas.ToolDOM}
	refined, ok := r.Refine(step, snap)
	require.True(t, ok)
	assert.Equal(t, ActionClick, refined.Action.Kind)
	assert.Equal(t, "login-btn", refined.Action.TargetID)
	assert.NotEmpty(t, refined.Thought)
}

func TestRefineSetValueWithQuotedText(t *testing.T) {
	r := NewRefiner(zaptest.NewLogger(t))
	snap := mustSnapshot(t, loginPageHTML)

	step := schemas.PlanStep{Description: `Type "alice" into the Username field`, Tool: schemas.ToolDOM}
	refined, ok := r.Refine(step, snap)
	require.True(t, ok)
	assert.Equal(t, ActionSetValue, refined.Action.Kind)
	assert.Equal(t, "username", refined.Action.TargetID)
	assert.Equal(t, "alice", refined.Action.Value)
}

func TestRefineMissWithoutQuotedText(t *testing.T) {
	r := NewRefiner(zaptest.NewLogger(t))
	snap := mustSnapshot(t, loginPageHTML)

	// Typing needs literal text; a step that does not quote it must fall
	// through to generation.
	step := schemas.PlanStep{Description: "Enter your username in the Username field", Tool: schemas.ToolDOM}
	_, ok := r.Refine(step, snap)
	assert.False(t, ok)
}

func TestRefineServerStepNeverRefines(t *testing.T) {
	r := NewRefiner(zaptest.NewLogger(t))
	snap := mustSnapshot(t, loginPageHTML)

	step := schemas.PlanStep{Description: `Click the "Log in" button`, Tool: schemas.ToolServer}
	_, ok := r.Refine(step, snap)
	assert.False(t, ok)
}

func TestRefineAmbiguousTargetMisses(t *testing.T) {
	r := NewRefiner(zaptest.NewLogger(t))
	snap := mustSnapshot(t, `<body>
		<button id="save-1">Save</button>
		<button id="save-2">Save</button>
	</body>`)

	step := schemas.PlanStep{Description: "Click the Save button", Tool: schemas.ToolDOM}
	_, ok := r.Refine(step, snap)
	assert.False(t, ok)
}

func TestRefineNoVerbMisses(t *testing.T) {
	r := NewRefiner(zaptest.NewLogger(t))
	snap := mustSnapshot(t, loginPageHTML)

	step := schemas.PlanStep{Description: "Review the login form for errors", Tool: schemas.ToolDOM}
	_, ok := r.Refine(step, snap)
	assert.False(t, ok)
}

func TestRefineScroll(t *testing.T) {
	r := NewRefiner(zaptest.NewLogger(t))
	snap := mustSnapshot(t, `<body><a id="terms" href="#">Terms of Service</a></body>`)

	step := schemas.PlanStep{Description: "Scroll to the Terms of Service link", Tool: schemas.ToolDOM}
	refined, ok := r.Refine(step, snap)
	require.True(t, ok)
	assert.Equal(t, ActionScroll, refined.Action.Kind)
	assert.Equal(t, "terms", refined.Action.TargetID)
}
