// Package knowledge provides clients for the external document-retrieval
// collaborator. The core only consumes its output; indexing and crawling are
// someone else's problem.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/10xr-agents/copilot-core/api/schemas"
	"github.com/10xr-agents/copilot-core/internal/config"
)

// HTTPRetriever calls a remote retrieval service over JSON/HTTP.
type HTTPRetriever struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ schemas.KnowledgeRetriever = (*HTTPRetriever)(nil)

// NewHTTPRetriever creates a retriever for the configured endpoint.
func NewHTTPRetriever(cfg config.KnowledgeConfig, logger *zap.Logger) (*HTTPRetriever, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("knowledge endpoint is required")
	}
	return &HTTPRetriever{
		endpoint: cfg.Endpoint,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.Named("knowledge"),
	}, nil
}

type retrievalRequest struct {
	URL      string `json:"url"`
	Query    string `json:"query"`
	TenantID string `json:"tenant_id"`
}

// GetChunks fetches ranked knowledge chunks for the page and goal, retrying
// transient failures briefly. Retrieval sits on the critical request path, so
// the retry budget is deliberately small.
func (r *HTTPRetriever) GetChunks(ctx context.Context, url, query, tenantID string) (*schemas.RetrievalResult, error) {
	body, err := json.Marshal(retrievalRequest{URL: url, Query: query, TenantID: tenantID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal retrieval request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 5 * time.Second

	var result schemas.RetrievalResult

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := r.httpClient.Do(httpReq)
		if err != nil {
			r.logger.Warn("Retrieval request failed, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute retrieval request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read retrieval response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("retrieval service returned status %d", resp.StatusCode)
			if resp.StatusCode >= 500 {
				return err
			}
			return backoff.Permanent(err)
		}

		if err := json.Unmarshal(respBody, &result); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode retrieval response: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}

	r.logger.Debug("Knowledge retrieval complete",
		zap.Int("chunks", len(result.Chunks)),
		zap.Bool("has_org_knowledge", result.HasOrgKnowledge))
	return &result, nil
}

// Static is a retriever with a fixed response, used in tests and when no
// retrieval endpoint is configured.
type Static struct {
	Result schemas.RetrievalResult
}

var _ schemas.KnowledgeRetriever = (*Static)(nil)

// GetChunks returns the configured result.
func (s *Static) GetChunks(_ context.Context, _, _, _ string) (*schemas.RetrievalResult, error) {
	out := s.Result
	return &out, nil
}
