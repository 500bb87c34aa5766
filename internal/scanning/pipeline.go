package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Pipeline implements Scanner as encode -> request -> normalize. It holds no
// mutable state, so concurrent scans do not interact.
type Pipeline struct {
	requester  Requester
	prompt     Prompt
	normalizer *Normalizer
}

// NewPipeline creates a Pipeline that extracts with requester using PromptV1
func NewPipeline(requester Requester) (*Pipeline, error) {
	return NewPipelineWithPrompt(requester, PromptV1)
}

// NewPipelineWithPrompt creates a Pipeline with a specific prompt version
func NewPipelineWithPrompt(requester Requester, prompt Prompt) (*Pipeline, error) {
	normalizer, err := NewNormalizer(prompt)
	if err != nil {
		return nil, fmt.Errorf("creating normalizer: %w", err)
	}
	return &Pipeline{
		requester:  requester,
		prompt:     prompt,
		normalizer: normalizer,
	}, nil
}

// ScanReceipt analyzes a receipt and extracts metadata
func (p *Pipeline) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error) {
	provider := p.requester.Name()

	data, declared := prepareImage(imageData, contentType)
	payload := Encode(RawReceipt{Data: data, ContentType: declared})

	start := time.Now()
	text, err := p.requester.Request(ctx, payload, p.prompt)
	scanDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	if err != nil {
		scansTotal.WithLabelValues(provider, scanOutcome(err)).Inc()
		return nil, err
	}

	receipt, err := p.normalizer.Normalize(text)
	scansTotal.WithLabelValues(provider, scanOutcome(err)).Inc()
	if err != nil {
		slog.Error("Failed to parse model response",
			"provider", provider,
			"prompt", p.prompt.Version,
			"response", text,
		)
		return nil, err
	}

	slog.Info("Scanned receipt",
		"provider", provider,
		"media_type", payload.MediaType,
		"vendor", receipt.Vendor,
		"confidence", receipt.Confidence,
	)
	return receipt, nil
}

// Close releases the underlying requester
func (p *Pipeline) Close() error {
	return p.requester.Close()
}
