// Package embedding generates dense vectors for semantic matching.
//
// Defines a Provider interface, an OpenAI-compatible implementation, and a
// noop fallback used when no API key is configured. The interface allows
// swapping embedding providers without changing consumers.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pgvector/pgvector-go"
)

// Provider generates vector embeddings from text.
type Provider interface {
	// Embed generates a single embedding vector. Empty input yields an
	// empty vector and no provider call.
	Embed(ctx context.Context, text string) (pgvector.Vector, error)

	// EmbedBatch generates embeddings for multiple texts, order preserved.
	EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int
}

// OpenAIProvider generates embeddings using an OpenAI-shape embeddings API.
type OpenAIProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	attempts   uint
}

// NewOpenAIProvider creates an OpenAI embedding provider.
func NewOpenAIProvider(apiKey, model string, timeout time.Duration, retries int) *OpenAIProvider {
	if retries < 1 {
		retries = 1
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    "https://api.openai.com/v1",
		httpClient: &http.Client{Timeout: timeout},
		attempts:   uint(retries),
	}
}

// Dimensions returns the embedding vector size.
func (p *OpenAIProvider) Dimensions() int { return 1536 }

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Embed generates a single embedding.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one API call.
// Newlines are replaced with spaces before sending; empty inputs are not
// sent at all and come back as empty vectors in their original positions.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))

	var input []string
	var positions []int
	for i, t := range texts {
		cleaned := strings.ReplaceAll(t, "\n", " ")
		if strings.TrimSpace(cleaned) == "" {
			continue
		}
		input = append(input, cleaned)
		positions = append(positions, i)
	}
	if len(input) == 0 {
		return vecs, nil
	}

	var result embedResponse
	err := retry.Do(
		func() error { return p.call(ctx, input, &result) },
		retry.Attempts(p.attempts),
		retry.Context(ctx),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(time.Second),
		retry.MaxJitter(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	if len(result.Data) != len(input) {
		return nil, fmt.Errorf("embedding: provider returned %d vectors for %d inputs", len(result.Data), len(input))
	}
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(input) {
			return nil, fmt.Errorf("embedding: invalid index %d in response", d.Index)
		}
		if len(d.Embedding) != p.Dimensions() {
			return nil, fmt.Errorf("embedding: provider returned %d-dim vector, want %d", len(d.Embedding), p.Dimensions())
		}
		vecs[positions[d.Index]] = pgvector.NewVector(d.Embedding)
	}
	return vecs, nil
}

func (p *OpenAIProvider) call(ctx context.Context, input []string, out *embedResponse) error {
	reqBody, err := json.Marshal(embedRequest{Input: input, Model: p.model})
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("embedding: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("embedding: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return retry.Unrecoverable(err)
		}
		return fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("embedding: read response: %w", err)
	}

	// 5xx and 429 are transient; other non-200s are permanent upstream
	// failures and retrying would not help.
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("embedding: transient status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	if resp.StatusCode != http.StatusOK {
		return retry.Unrecoverable(fmt.Errorf("embedding: unexpected status %d: %s", resp.StatusCode, truncate(body, 200)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return retry.Unrecoverable(fmt.Errorf("embedding: unmarshal response: %w", err))
	}
	if parsed.Error != nil {
		return retry.Unrecoverable(fmt.Errorf("embedding: provider error: %s: %s", parsed.Error.Type, parsed.Error.Message))
	}

	*out = parsed
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// NoopProvider returns empty vectors. Used when no API key is configured;
// semantic scores fall back to zero.
type NoopProvider struct{}

// NewNoopProvider creates a provider that returns empty vectors.
func NewNoopProvider() *NoopProvider { return &NoopProvider{} }

// Dimensions returns the embedding vector size.
func (p *NoopProvider) Dimensions() int { return 1536 }

// Embed returns an empty vector.
func (p *NoopProvider) Embed(_ context.Context, _ string) (pgvector.Vector, error) {
	return pgvector.Vector{}, nil
}

// EmbedBatch returns empty vectors.
func (p *NoopProvider) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	return make([]pgvector.Vector, len(texts)), nil
}
