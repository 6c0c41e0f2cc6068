package knowledge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/10xr-agents/copilot-core/api/schemas"
	"github.com/10xr-agents/copilot-core/internal/config"
)

func newRetriever(t *testing.T, endpoint string) *HTTPRetriever {
	t.Helper()
	r, err := NewHTTPRetriever(config.KnowledgeConfig{
		Endpoint: endpoint,
		Timeout:  2 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func TestNewHTTPRetrieverRequiresEndpoint(t *testing.T) {
	_, err := NewHTTPRetriever(config.KnowledgeConfig{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestGetChunksSuccess(t *testing.T) {
	var gotReq retrievalRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		json.NewEncoder(w).Encode(schemas.RetrievalResult{
			Chunks: []schemas.KnowledgeChunk{
				{Content: "The dashboard requires SSO login.", Source: "kb/sso.md", Score: 0.91},
				{Content: "Reports live under the sidebar.", Score: 0.44},
			},
			HasOrgKnowledge: true,
		})
	}))
	defer server.Close()

	r := newRetriever(t, server.URL)
	result, err := r.GetChunks(context.Background(), "https://app.example.com", "open reports", "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com", gotReq.URL)
	assert.Equal(t, "open reports", gotReq.Query)
	assert.Equal(t, "tenant-1", gotReq.TenantID)

	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "The dashboard requires SSO login.", result.Chunks[0].Content)
	assert.True(t, result.HasOrgKnowledge)
}

func TestGetChunksRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(schemas.RetrievalResult{HasOrgKnowledge: false})
	}))
	defer server.Close()

	r := newRetriever(t, server.URL)
	result, err := r.GetChunks(context.Background(), "https://app.example.com", "q", "tenant-1")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, calls.Load(), int32(3))
	assert.Empty(t, result.Chunks)
}

func TestGetChunksClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	r := newRetriever(t, server.URL)
	_, err := r.GetChunks(context.Background(), "https://app.example.com", "q", "tenant-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetChunksMalformedBodyIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	r := newRetriever(t, server.URL)
	_, err := r.GetChunks(context.Background(), "https://app.example.com", "q", "tenant-1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetChunksHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can detect the client disconnect and
		// cancel the request context; otherwise Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	r := newRetriever(t, server.URL)
	_, err := r.GetChunks(ctx, "https://app.example.com", "q", "tenant-1")
	assert.Error(t, err)
}

func TestStaticRetriever(t *testing.T) {
	s := &Static{Result: schemas.RetrievalResult{
		Chunks: []schemas.KnowledgeChunk{{Content: "canned"}},
	}}

	result, err := s.GetChunks(context.Background(), "https://app.example.com", "q", "tenant-1")
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "canned", result.Chunks[0].Content)
}
