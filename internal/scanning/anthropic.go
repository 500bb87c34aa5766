package scanning

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	anthropicMaxTokens    = 1024
)

// Anthropic implements Requester against the Anthropic Messages API
type Anthropic struct {
	model  string
	client anthropic.Client
}

// NewAnthropic creates a new Anthropic requester. An empty baseURL uses the public API.
func NewAnthropic(apiKey, modelName, baseURL string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if modelName == "" {
		modelName = defaultAnthropicModel
	}

	// one call per scan, failures surface to the caller
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Anthropic{
		model:  modelName,
		client: anthropic.NewClient(opts...),
	}, nil
}

// Name returns the provider name
func (a *Anthropic) Name() string {
	return "anthropic"
}

// Request sends the image and prompt as a single user message
func (a *Anthropic) Request(ctx context.Context, payload EncodedPayload, prompt Prompt) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(string(payload.MediaType), payload.Data),
				anthropic.NewTextBlock(prompt.Text),
			),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &TransportError{Provider: a.Name(), Err: fmt.Errorf("status %d: %w", apiErr.StatusCode, err)}
		}
		return "", &TransportError{Provider: a.Name(), Err: err}
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", ErrNoTextResponse
}

// Close is a no-op; the SDK client holds no resources
func (a *Anthropic) Close() error {
	return nil
}
