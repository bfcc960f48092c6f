// Package provider builds llm.Client values for configured sources.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/llm"
	"github.com/joseph-ayodele/homework-scanner/internal/llm/gemini"
	"github.com/joseph-ayodele/homework-scanner/internal/llm/openai"
	"github.com/joseph-ayodele/homework-scanner/internal/sources"
)

// Factory returns a fresh client for one source.
type Factory func(ctx context.Context, src sources.Source) (llm.Client, error)

// Options carries vendor defaults shared by every source of that vendor.
type Options struct {
	OpenAIMode         string
	OpenAIPollInterval time.Duration
	OpenAIMaxPoll      time.Duration
	GeminiThinking     int32
	MaxMediaMB         int
	HTTPClient         *http.Client
}

// OptionsFromConfig maps the llm config section onto Options. RequestTimeout
// bounds every HTTP exchange, streamed bodies included.
func OptionsFromConfig(cfg common.LLMConfig, maxUploadMB int) Options {
	return Options{
		OpenAIMode:         cfg.OpenAIMode,
		OpenAIPollInterval: cfg.OpenAIPollInterval,
		OpenAIMaxPoll:      cfg.OpenAIMaxPoll,
		GeminiThinking:     cfg.GeminiThinking,
		MaxMediaMB:         maxUploadMB,
		HTTPClient:         &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// NewFactory returns a Factory that dispatches on the source's provider.
func NewFactory(opts Options, logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, src sources.Source) (llm.Client, error) {
		return New(ctx, src, opts, logger)
	}
}

// New builds the client for src.
func New(ctx context.Context, src sources.Source, opts Options, logger *slog.Logger) (llm.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("source_id", src.ID)

	switch src.Provider {
	case constants.ProviderGemini:
		budget := opts.GeminiThinking
		if src.ThinkingBudget != nil {
			budget = *src.ThinkingBudget
		}
		c, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:         src.APIKey,
			BaseURL:        src.BaseURL,
			ThinkingBudget: &budget,
			MaxMediaMB:     opts.MaxMediaMB,
		}, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case constants.ProviderOpenAI:
		return openai.NewClient(openai.Config{
			APIKey:       src.APIKey,
			BaseURL:      src.BaseURL,
			Mode:         opts.OpenAIMode,
			PollInterval: opts.OpenAIPollInterval,
			MaxPoll:      opts.OpenAIMaxPoll,
			MaxMediaMB:   opts.MaxMediaMB,
			HTTPClient:   opts.HTTPClient,
		}, logger), nil
	}
	return nil, fmt.Errorf("unsupported provider %q", src.Provider)
}
