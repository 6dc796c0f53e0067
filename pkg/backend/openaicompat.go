package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CompatBackend implements the Backend interface for any endpoint speaking
// the OpenAI-compatible chat completions format (DeepSeek, vLLM, local
// gateways).
type CompatBackend struct {
	name       string
	apiKey     string
	baseURL    string
	models     []string
	httpClient *http.Client
}

// compatRequest represents the OpenAI-compatible request format.
type compatRequest struct {
	Model       string          `json:"model"`
	Messages    []compatMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

// compatMessage represents a chat message.
type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// compatResponse represents the OpenAI-compatible response format.
type compatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NewCompatBackend creates a backend for an OpenAI-compatible endpoint.
func NewCompatBackend(name, baseURL, apiKey string, models []string) (*CompatBackend, error) {
	if name == "" {
		return nil, fmt.Errorf("backend name is required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	return &CompatBackend{
		name:       name,
		apiKey:     apiKey,
		baseURL:    baseURL,
		models:     models,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Name returns the backend identifier.
func (b *CompatBackend) Name() string {
	return b.name
}

// Models returns the list of configured models.
func (b *CompatBackend) Models() []string {
	return b.models
}

// Complete sends a prompt to the endpoint and returns the response.
func (b *CompatBackend) Complete(ctx context.Context, model string, prompt string) (*Response, error) {
	reqBody := compatRequest{
		Model: model,
		Messages: []compatMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens: 4096,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Temporary: true, Err: fmt.Errorf("%s API request failed: %w", b.name, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s API returned status %d: %s", b.name, resp.StatusCode, truncate(string(body), 512)),
		}
	}

	var compatResp compatResponse
	if err := json.Unmarshal(body, &compatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if compatResp.Error != nil {
		return nil, fmt.Errorf("%s API error: %s (type: %s, code: %s)",
			b.name, compatResp.Error.Message, compatResp.Error.Type, compatResp.Error.Code)
	}

	if len(compatResp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", b.name)
	}

	return &Response{
		Content: compatResp.Choices[0].Message.Content,
		Model:   model,
		Backend: b.name,
		Usage: Usage{
			InputTokens:  compatResp.Usage.PromptTokens,
			OutputTokens: compatResp.Usage.CompletionTokens,
			TotalTokens:  compatResp.Usage.TotalTokens,
		}.Normalize(),
	}, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
