package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/10xr-agents/copilot-core/api/schemas"
)

// tierEcho answers with its own name so tests can see which client handled
// the request.
type tierEcho struct {
	name  string
	calls int
	err   error
}

func (c *tierEcho) Generate(_ context.Context, _ schemas.GenerationRequest) (schemas.GenerationResponse, error) {
	c.calls++
	if c.err != nil {
		return schemas.GenerationResponse{}, c.err
	}
	return schemas.GenerationResponse{Content: c.name}, nil
}

func TestNewLLMRouterRequiresBothClients(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewLLMRouter(logger, nil, &tierEcho{}, nil)
	assert.Error(t, err)

	_, err = NewLLMRouter(logger, &tierEcho{}, nil, nil)
	assert.Error(t, err)
}

func TestRouterDispatchesByTier(t *testing.T) {
	fast := &tierEcho{name: "fast"}
	powerful := &tierEcho{name: "powerful"}
	router, err := NewLLMRouter(zaptest.NewLogger(t), fast, powerful, nil)
	require.NoError(t, err)

	resp, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierFast})
	require.NoError(t, err)
	assert.Equal(t, "fast", resp.Content)

	resp, err = router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierPowerful})
	require.NoError(t, err)
	assert.Equal(t, "powerful", resp.Content)

	assert.Equal(t, 1, fast.calls)
	assert.Equal(t, 1, powerful.calls)
}

func TestRouterDefaultsToPowerful(t *testing.T) {
	fast := &tierEcho{name: "fast"}
	powerful := &tierEcho{name: "powerful"}
	router, err := NewLLMRouter(zaptest.NewLogger(t), fast, powerful, nil)
	require.NoError(t, err)

	resp, err := router.Generate(context.Background(), schemas.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "powerful", resp.Content)
	assert.Zero(t, fast.calls)
}

func TestRouterRejectsUnknownTier(t *testing.T) {
	router, err := NewLLMRouter(zaptest.NewLogger(t), &tierEcho{}, &tierEcho{}, nil)
	require.NoError(t, err)

	_, err = router.Generate(context.Background(), schemas.GenerationRequest{Tier: "experimental"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no LLM client configured")
}

func TestRouterPropagatesClientError(t *testing.T) {
	boom := errors.New("quota exhausted")
	router, err := NewLLMRouter(zaptest.NewLogger(t), &tierEcho{err: boom}, &tierEcho{}, nil)
	require.NoError(t, err)

	_, err = router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierFast})
	assert.ErrorIs(t, err, boom)
}

func TestRouterRespectsRateLimiter(t *testing.T) {
	// One token, no refill worth waiting for: the second call must block until
	// the context gives up.
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	fast := &tierEcho{name: "fast"}
	router, err := NewLLMRouter(zaptest.NewLogger(t), fast, &tierEcho{}, limiter)
	require.NoError(t, err)

	_, err = router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierFast})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = router.Generate(ctx, schemas.GenerationRequest{Tier: schemas.TierFast})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
	assert.Equal(t, 1, fast.calls)
}
