package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Client abstracts LLM providers for document fraud analysis.
type Client interface {
	AnalyzeDocument(ctx context.Context, input AnalyzeInput) (json.RawMessage, error)
}

// AnalyzeInput captures the inputs needed to analyze one document.
type AnalyzeInput struct {
	DocumentText string
	DocumentType string
	FileName     string
}

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderClient is a stub implementation until provider wiring is added.
type PlaceholderClient struct{}

// AnalyzeDocument returns ErrNotImplemented.
func (PlaceholderClient) AnalyzeDocument(ctx context.Context, input AnalyzeInput) (json.RawMessage, error) {
	_ = ctx
	_ = input
	return nil, ErrNotImplemented
}
