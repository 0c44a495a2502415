// Package gemini adapts the Google Gen AI SDK to the report generator.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"greenhouse-report/internal/supervisor"
)

// ErrEmptyResponse is returned when the model answers without any text.
var ErrEmptyResponse = errors.New("gemini: empty response")

// modelsAPI is the subset of *genai.Models used here.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

// Client calls Gemini text generation. It is built once at startup and shared
// by every request.
type Client struct {
	models modelsAPI
}

// NewClient constructs a Gemini API client.
func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{models: c.Models}, nil
}

// Generate sends prompt to model and returns the response text.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("%w: prompt blocked (%s)", ErrEmptyResponse, resp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("%w: no candidates", ErrEmptyResponse)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: finish reason %s", ErrEmptyResponse, resp.Candidates[0].FinishReason)
	}
	return text, nil
}

// Probe checks that model is reachable with the configured key.
func (c *Client) Probe(ctx context.Context, model string) error {
	if _, err := c.models.Get(ctx, model, nil); err != nil {
		return fmt.Errorf("get model %s: %w", model, err)
	}
	return nil
}

// Classify maps a generation error to a retry kind. Quota and rate-limit
// errors (HTTP 429, RESOURCE_EXHAUSTED) are KindRateLimited, everything else
// is KindOther.
func Classify(err error) supervisor.Kind {
	if err == nil {
		return supervisor.KindOther
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyAPIError(*apiErrPtr)
	}

	msg := err.Error()
	if strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "Error 429") {
		return supervisor.KindRateLimited
	}
	return supervisor.KindOther
}

func classifyAPIError(e genai.APIError) supervisor.Kind {
	if e.Code == http.StatusTooManyRequests || e.Status == "RESOURCE_EXHAUSTED" {
		return supervisor.KindRateLimited
	}
	return supervisor.KindOther
}
