package scanning

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.5-pro"

// Gemini implements the Requester interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini requester
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	return newGemini(apiKey, modelName)
}

// newGemini accepts extra client options, such as a test endpoint
func newGemini(apiKey string, modelName string, opts ...option.ClientOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Name returns the provider name
func (g *Gemini) Name() string {
	return "gemini"
}

// Request sends the image and prompt and returns the first text part of the first candidate
func (g *Gemini) Request(ctx context.Context, payload EncodedPayload, prompt Prompt) (string, error) {
	imageData, err := payload.Bytes()
	if err != nil {
		return "", fmt.Errorf("decoding payload: %w", err)
	}

	// genai.ImageData expects just the format suffix (e.g., "png"), not the full MIME type
	parts := []genai.Part{
		genai.ImageData(payload.MediaType.Format(), imageData),
		genai.Text(prompt.Text),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", &TransportError{Provider: g.Name(), Err: err}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoTextResponse
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			return string(text), nil
		}
	}
	return "", ErrNoTextResponse
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
