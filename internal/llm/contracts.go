package llm

import (
	"context"
	"errors"
)

// DeltaFunc receives incremental text chunks as a model streams its answer.
type DeltaFunc func(chunk string)

// Model is one entry in a provider's model catalog.
type Model struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// Client is the uniform surface over AI vendors. Implementations are not safe
// for concurrent SetSystemPrompt calls; callers build one client per attempt chain.
type Client interface {
	SetSystemPrompt(prompt string)
	// SendMedia sends one inline image or PDF plus an optional text prompt and
	// returns the full response text. Chunks are forwarded to onDelta as they
	// arrive. An abnormally terminated stream returns an error, never partial text.
	SendMedia(ctx context.Context, data []byte, mimeType, prompt, model string, onDelta DeltaFunc) (string, error)
	// ListModels is best-effort and only used to populate settings.
	ListModels(ctx context.Context) ([]Model, error)
}

var (
	ErrEmptyMedia    = errors.New("llm: empty media payload")
	ErrEmptyResponse = errors.New("llm: empty response")
	ErrMediaTooLarge = errors.New("llm: media exceeds size limit")
	ErrUnsupported   = errors.New("llm: media type not supported by provider")
	ErrStreamAborted = errors.New("llm: stream terminated abnormally")
	ErrPollTimeout   = errors.New("llm: response polling timed out")
)

// Emit forwards chunk to fn when both are non-empty.
func (fn DeltaFunc) Emit(chunk string) {
	if fn != nil && chunk != "" {
		fn(chunk)
	}
}
