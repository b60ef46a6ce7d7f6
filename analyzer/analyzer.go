package analyzer

import "context"

// Image is an uploaded image as it will be handed to a model.
type Image struct {
	MIMEType string // "image/jpeg" or "image/png"
	Data     []byte
}

// Request is a single analysis request to a multimodal model.
type Request struct {
	// Prompt is the free-text prompt typed by the user. It may be empty.
	Prompt string

	// Instructions is the fixed system instruction template sent alongside
	// every request.
	Instructions string

	Image Image
}

// Analyzer analyzes a food image using a specific multimodal LLM.
type Analyzer interface {
	// Name returns the name of the backing LLM service, e.g. "gemini" or
	// "llama"
	Name() string

	// Model returns the model identifier requests are sent to.
	Model() string

	// Analyze returns the model's text response for the request. The provided
	// ctx is used as a parent context for the request to the LLM server.
	Analyze(ctx context.Context, req Request) (string, error)

	// IsHealthy returns whether the LLM server is reachable.
	IsHealthy(ctx context.Context) bool
}
