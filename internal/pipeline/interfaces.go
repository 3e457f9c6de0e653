package pipeline

import (
	"context"
)

// ModelClient sends a prompt plus one document to a generative model.
// This interface enables mocking and testing of the extraction pipeline.
type ModelClient interface {
	// Generate returns the model's raw text. Failures are reported as
	// ExternalServiceError.
	Generate(ctx context.Context, prompt string, content []byte, mimeType string) (*RawModelResponse, error)
}

// DocumentStore holds uploaded documents for the duration of one request.
type DocumentStore interface {
	Save(ctx context.Context, key string, content []byte, mimeType string) error
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
