package backend

import "context"

// Backend defines the interface for generation providers.
type Backend interface {
	// Complete sends a prompt to the model and returns the generated text
	// with normalized token usage.
	Complete(ctx context.Context, model string, prompt string) (*Response, error)

	// Name returns the backend's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}
