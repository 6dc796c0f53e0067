package backend

import (
	"context"
	"fmt"
)

// MockBackend returns deterministic responses for local runs and tests.
type MockBackend struct {
	name            string
	responses       map[string]string
	defaultResponse string
	Usage           Usage
	Err             error
	Calls           int
}

// NewMockBackend creates a mock backend with a default response.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		name:            "mock",
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
		Usage:           Usage{InputTokens: 10, OutputTokens: 10, TotalTokens: 20},
	}
}

// NewMockBackendWithResponses creates a mock backend with predefined
// responses keyed by an exact prompt match.
func NewMockBackendWithResponses(responses map[string]string, defaultResponse string) *MockBackend {
	b := NewMockBackend()
	if responses != nil {
		b.responses = responses
	}
	if defaultResponse != "" {
		b.defaultResponse = defaultResponse
	}
	return b
}

// Respond registers a canned response for a prompt.
func (b *MockBackend) Respond(prompt, response string) {
	b.responses[prompt] = response
}

// Name returns the backend identifier.
func (b *MockBackend) Name() string {
	return b.name
}

// Models returns the list of supported mock models.
func (b *MockBackend) Models() []string {
	return []string{"mock-1"}
}

// Complete returns a deterministic response for the prompt, or the
// configured error.
func (b *MockBackend) Complete(_ context.Context, model string, prompt string) (*Response, error) {
	b.Calls++
	if b.Err != nil {
		return nil, b.Err
	}
	if model == "" {
		model = "mock-1"
	}
	content, ok := b.responses[prompt]
	if !ok {
		content = fmt.Sprintf("%s\n%s", b.defaultResponse, prompt)
	}
	return &Response{
		Content: content,
		Model:   model,
		Backend: b.name,
		Usage:   b.Usage,
	}, nil
}
