// Package llm wraps a chat-completions provider that must answer with a
// single JSON object. Used by the Tier-2 match reviewer.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
)

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
	attempts    uint
}

// New creates a chat client. baseURL points at an OpenAI-compatible API
// root (e.g. https://api.openai.com/v1).
func New(apiKey, baseURL, model string, timeout time.Duration, retries int) *Client {
	if retries < 1 {
		retries = 1
	}
	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		temperature: 0.1,
		httpClient:  &http.Client{Timeout: timeout},
		attempts:    uint(retries),
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat respFormat    `json:"response_format"`
	Temperature    float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// CompleteJSON sends a single-user-message chat request with a forced
// JSON-object response format and returns the raw response content.
// The content is validated to be well-formed JSON before returning.
func (c *Client) CompleteJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	var content string
	err := retry.Do(
		func() error {
			var callErr error
			content, callErr = c.call(ctx, prompt)
			return callErr
		},
		retry.Attempts(c.attempts),
		retry.Context(ctx),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(time.Second),
		retry.MaxJitter(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	raw := json.RawMessage(content)
	if !json.Valid(raw) {
		return nil, fmt.Errorf("llm: response content is not valid JSON")
	}
	return raw, nil
}

func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:          c.model,
		Messages:       []chatMessage{{Role: "user", Content: prompt}},
		ResponseFormat: respFormat{Type: "json_object"},
		Temperature:    c.temperature,
	})
	if err != nil {
		return "", retry.Unrecoverable(fmt.Errorf("llm: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", retry.Unrecoverable(fmt.Errorf("llm: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", retry.Unrecoverable(err)
		}
		return "", fmt.Errorf("llm: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("llm: transient status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", retry.Unrecoverable(fmt.Errorf("llm: unexpected status %d: %s", resp.StatusCode, truncate(body, 200)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", retry.Unrecoverable(fmt.Errorf("llm: unmarshal response: %w", err))
	}
	if parsed.Error != nil {
		return "", retry.Unrecoverable(fmt.Errorf("llm: provider error: %s: %s", parsed.Error.Type, parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", retry.Unrecoverable(fmt.Errorf("llm: response has no choices"))
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
