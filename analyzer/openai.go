package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL is the OpenAI-compatible chat completions endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

// defaultTimeout bounds a single model invocation; slower calls count as
// that attempt's failure and fall to the caller's retry policy.
const defaultTimeout = 120 * time.Second

// OpenAIClient implements Analyzer against an OpenAI-compatible chat
// completions API. It is a thin adapter: prompt selection comes from the
// agent registry, and all retry behavior belongs to the calling stage.
type OpenAIClient struct {
	registry   *Registry
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// OpenAIOption configures the client.
type OpenAIOption func(*OpenAIClient)

// WithBaseURL points the client at an alternate endpoint. Used for
// API-compatible providers and tests.
func WithBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) { c.baseURL = url }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(c *OpenAIClient) { c.httpClient = client }
}

// NewOpenAIClient creates a client using the given agent registry and
// API key.
func NewOpenAIClient(registry *Registry, apiKey string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		registry:   registry,
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string         `json:"model"`
	Temperature float64        `json:"temperature"`
	Messages    []chatMessage  `json:"messages"`
	Format      map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Run sends the role's prompt plus the story content to the model and
// returns the model's JSON output.
func (c *OpenAIClient) Run(ctx context.Context, role string, content json.RawMessage, promptContext string) (json.RawMessage, error) {
	agent, ok := c.registry.Agent(role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidOutput, role)
	}

	system := agent.Prompt
	if promptContext != "" {
		system += "\n\nAdditional context:\n" + promptContext
	}

	body, err := json.Marshal(chatRequest{
		Model:       agent.Model,
		Temperature: agent.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: string(content)},
		},
		Format: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Rate limits and server faults are transient; anything else
		// will not improve on retry.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d", ErrInvalidOutput, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrInvalidOutput)
	}

	out := json.RawMessage(parsed.Choices[0].Message.Content)
	if !json.Valid(out) {
		return nil, fmt.Errorf("%w: completion is not JSON", ErrInvalidOutput)
	}
	return out, nil
}
