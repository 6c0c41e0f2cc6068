package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/10xr-agents/copilot-core/api/schemas"
)

func TestPredictParsesAssertions(t *testing.T) {
	client := new(MockLLMClient)
	client.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		// Prediction is a forecast, not a decision: it runs on the fast tier.
		return req.Tier == schemas.TierFast
	})).Return(schemas.GenerationResponse{
		Content: `{
			"description": "the dashboard loads",
			"url_should_change": true,
			"next_goal": "open the reports tab",
			"assertions": [
				{"kind": "element_exists", "selector": "#dashboard"},
				{"kind": "TEXT_CONTENT", "selector": "#welcome", "text": "Welcome"},
				{"kind": "SOMETHING_NEW", "selector": "#x"},
				{"kind": "ELEMENT_ABSENT", "selector": ""}
			]
		}`,
	}, nil)

	p := NewPredictor(zaptest.NewLogger(t), client, testAgentConfig())
	outcome, _, err := p.Predict(context.Background(), testTask(), nil,
		ParsedAction{Kind: ActionClick, TargetID: "login-btn"}, "submitting", mustSnapshot(t, loginPageHTML))
	require.NoError(t, err)

	assert.True(t, outcome.URLShouldChange)
	assert.Equal(t, "the dashboard loads", outcome.Description)
	assert.Equal(t, "open the reports tab", outcome.NextGoal)
	// The unknown kind and the empty selector are dropped, not failed.
	require.Len(t, outcome.Assertions, 2)
	assert.Equal(t, schemas.AssertElementExists, outcome.Assertions[0].Kind)
	assert.Equal(t, schemas.AssertTextContent, outcome.Assertions[1].Kind)
	assert.True(t, outcome.HasEvidence())
}

func TestPredictParseFailurePropagates(t *testing.T) {
	client := new(MockLLMClient)
	client.On("Generate", mock.Anything, mock.Anything).Return(schemas.GenerationResponse{
		Content: "the page will probably change somehow",
	}, nil)

	p := NewPredictor(zaptest.NewLogger(t), client, testAgentConfig())
	_, _, err := p.Predict(context.Background(), testTask(), nil,
		ParsedAction{Kind: ActionClick, TargetID: "a"}, "", mustSnapshot(t, loginPageHTML))
	assert.Error(t, err)
}

func TestFallbackOutcome(t *testing.T) {
	assert.Nil(t, FallbackOutcome(nil))
	assert.Nil(t, FallbackOutcome(&schemas.PlanStep{}))

	outcome := FallbackOutcome(&schemas.PlanStep{ExpectedOutcome: "the form submits"})
	require.NotNil(t, outcome)
	assert.Equal(t, "the form submits", outcome.Description)
	// No assertions, so verification of this outcome carries low confidence.
	assert.False(t, outcome.HasEvidence())
}
