package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/10xr-agents/copilot-core/api/schemas"
)

// -- LLM Client Mocks --

// MockLLMClient mocks the schemas.LLMClient interface for single-engine tests.
type MockLLMClient struct {
	mock.Mock
}

// Generate mocks the LLM generation call.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.GenerationResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return schemas.GenerationResponse{}, args.Error(1)
	}
	return args.Get(0).(schemas.GenerationResponse), args.Error(1)
}

// scriptedLLM routes generation calls to per-engine response queues by
// inspecting the system prompt. It lets orchestrator tests script a whole
// round-trip without coupling to prompt wording beyond the engine banner.
type scriptedLLM struct {
	mu sync.Mutex

	planResponses       []string
	actionResponses     []string
	predictionResponses []string
	correctionResponses []string

	planErr       error
	actionErr     error
	predictionErr error
	correctionErr error

	calls []string
}

func (s *scriptedLLM) Generate(_ context.Context, req schemas.GenerationRequest) (schemas.GenerationResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage := schemas.TokenUsage{PromptTokens: 10, CompletionTokens: 5}
	switch {
	case strings.Contains(req.SystemPrompt, "planning engine"):
		s.calls = append(s.calls, "plan")
		if s.planErr != nil {
			return schemas.GenerationResponse{}, s.planErr
		}
		return schemas.GenerationResponse{Content: s.pop(&s.planResponses), Usage: usage}, nil
	case strings.Contains(req.SystemPrompt, "action engine"):
		s.calls = append(s.calls, "action")
		if s.actionErr != nil {
			return schemas.GenerationResponse{}, s.actionErr
		}
		return schemas.GenerationResponse{Content: s.pop(&s.actionResponses), Usage: usage}, nil
	case strings.Contains(req.SystemPrompt, "outcome-prediction engine"):
		s.calls = append(s.calls, "predict")
		if s.predictionErr != nil {
			return schemas.GenerationResponse{}, s.predictionErr
		}
		return schemas.GenerationResponse{Content: s.pop(&s.predictionResponses), Usage: usage}, nil
	case strings.Contains(req.SystemPrompt, "self-correction engine"):
		s.calls = append(s.calls, "correct")
		if s.correctionErr != nil {
			return schemas.GenerationResponse{}, s.correctionErr
		}
		return schemas.GenerationResponse{Content: s.pop(&s.correctionResponses), Usage: usage}, nil
	}
	return schemas.GenerationResponse{}, fmt.Errorf("unrecognized system prompt: %q", req.SystemPrompt)
}

// pop dequeues the next scripted response; the last one repeats so scripts
// do not have to count round-trips exactly.
func (s *scriptedLLM) pop(queue *[]string) string {
	if len(*queue) == 0 {
		return ""
	}
	head := (*queue)[0]
	if len(*queue) > 1 {
		*queue = (*queue)[1:]
	}
	return head
}

func (s *scriptedLLM) callCount(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == kind {
			n++
		}
	}
	return n
}

// -- Knowledge Retriever Mock --

type mockRetriever struct {
	result *schemas.RetrievalResult
	err    error
	calls  int
}

func (m *mockRetriever) GetChunks(_ context.Context, _, _, _ string) (*schemas.RetrievalResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}
