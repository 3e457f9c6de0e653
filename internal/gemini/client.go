// Package gemini implements pipeline.ModelClient on top of the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/expense-extractor/internal/pipeline"
	"github.com/sony/gobreaker"
	"google.golang.org/genai"
)

// Generation settings shared by both extraction modes.
const (
	temperature     = 0.1
	topP            = 0.95
	topK            = 64
	maxOutputTokens = 4096
)

// Config configures the Gemini client.
type Config struct {
	// APIKey selects the Gemini API backend. When empty the SDK falls back
	// to its environment configuration (GOOGLE_API_KEY or Vertex AI).
	APIKey string
	// Model defaults to pipeline.DefaultModelName.
	Model string
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// Client sends one prompt plus one document per call. It never retries; a
// circuit breaker fails calls fast while the service is unhealthy.
type Client struct {
	models  *genai.Models
	model   string
	breaker *gobreaker.CircuitBreaker
	config  *genai.GenerateContentConfig
}

// NewClient creates a Gemini client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cc := &genai.ClientConfig{}
	if cfg.APIKey != "" {
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("NewClient: create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = pipeline.DefaultModelName
	}

	return &Client{
		models:  client.Models,
		model:   model,
		breaker: newCircuitBreaker("gemini"),
		config: &genai.GenerateContentConfig{
			Temperature:     genai.Ptr[float32](temperature),
			TopP:            genai.Ptr[float32](topP),
			TopK:            genai.Ptr[float32](topK),
			MaxOutputTokens: maxOutputTokens,
		},
	}, nil
}

// Model returns the model name used for generation.
func (c *Client) Model() string {
	return c.model
}

// Generate implements pipeline.ModelClient.
func (c *Client) Generate(ctx context.Context, prompt string, content []byte, mimeType string) (*pipeline.RawModelResponse, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     content,
					},
				},
			},
		},
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.models.GenerateContent(ctx, c.model, contents, c.config)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, pipeline.NewExternalServiceError("model service temporarily unavailable", err)
		}
		return nil, pipeline.NewExternalServiceError(providerMessage(err), err)
	}

	resp, _ := out.(*genai.GenerateContentResponse)
	if resp == nil {
		return nil, pipeline.NewExternalServiceError("no response received", nil)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, pipeline.NewExternalServiceError("empty response from model", nil)
	}

	raw := &pipeline.RawModelResponse{
		Text:    text,
		Model:   c.model,
		Latency: time.Since(start),
	}
	if resp.ModelVersion != "" {
		raw.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		raw.TokensInput = int64(resp.UsageMetadata.PromptTokenCount)
		raw.TokensOutput = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return raw, nil
}

// providerMessage returns the message the API sent with a failed call.
func providerMessage(err error) string {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// Ensure Client implements pipeline.ModelClient.
var _ pipeline.ModelClient = (*Client)(nil)
