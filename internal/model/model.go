package model

import "context"

// GenerationParams are forwarded verbatim to the completion backend.
type GenerationParams struct {
	MaxNewTokens      int     `toml:"max_new_tokens" json:"max_new_tokens"`
	Temperature       float64 `toml:"temperature" json:"temperature"`
	TopP              float64 `toml:"top_p" json:"top_p"`
	RepetitionPenalty float64 `toml:"repetition_penalty" json:"repetition_penalty"`
}

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the text-completion capability: one rendered prompt in, one
// completion string out.
type Provider interface {
	Complete(ctx context.Context, prompt string, params GenerationParams) (CompletionResponse, error)
}
