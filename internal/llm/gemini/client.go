// Package gemini adapts the Google GenAI SDK to llm.Client.
package gemini

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/llm"
)

// DefaultThinkingBudget lets the model pick its own reasoning budget.
const DefaultThinkingBudget int32 = -1

// Config for the Gemini client.
type Config struct {
	APIKey  string
	BaseURL string // optional proxy or regional endpoint
	// ThinkingBudget nil means DefaultThinkingBudget.
	ThinkingBudget *int32
	// SafetySettings nil means every harm category at BLOCK_NONE.
	SafetySettings []*genai.SafetySetting
	MaxMediaMB     int
}

type streamFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

type listFunc func(ctx context.Context) iter.Seq2[*genai.Model, error]

// Client implements llm.Client over Gemini's native streaming endpoint.
type Client struct {
	cfg          Config
	stream       streamFunc
	list         listFunc
	systemPrompt string
	logger       *slog.Logger
}

var _ llm.Client = (*Client)(nil)

// NewClient builds a Gemini client. No network call is made.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	gc, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return newClient(cfg, gc.Models.GenerateContentStream, gc.Models.All, logger), nil
}

func newClient(cfg Config, stream streamFunc, list listFunc, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ThinkingBudget == nil {
		b := DefaultThinkingBudget
		cfg.ThinkingBudget = &b
	}
	if cfg.SafetySettings == nil {
		cfg.SafetySettings = DefaultSafetySettings()
	}
	return &Client{cfg: cfg, stream: stream, list: list, logger: logger.With("provider", "gemini")}
}

// DefaultSafetySettings disables blocking for the four configurable harm categories.
func DefaultSafetySettings() []*genai.SafetySetting {
	cats := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	out := make([]*genai.SafetySetting, 0, len(cats))
	for _, c := range cats {
		out = append(out, &genai.SafetySetting{Category: c, Threshold: genai.HarmBlockThresholdBlockNone})
	}
	return out
}

func (c *Client) SetSystemPrompt(prompt string) { c.systemPrompt = prompt }

// SendMedia streams a generateContent call. The system prompt goes out as a
// leading user turn, followed by the optional text prompt and the inline media.
func (c *Client) SendMedia(ctx context.Context, data []byte, mimeType, prompt, model string, onDelta llm.DeltaFunc) (string, error) {
	if err := llm.CheckMedia(data, mimeType, c.cfg.MaxMediaMB); err != nil {
		return "", err
	}
	if model == "" {
		model = constants.ProviderGemini.DefaultModel()
	}

	reqID := uuid.New().String()
	start := time.Now()

	contents := make([]*genai.Content, 0, 2)
	if c.systemPrompt != "" {
		contents = append(contents, genai.NewContentFromText(c.systemPrompt, genai.RoleUser))
	}
	parts := make([]*genai.Part, 0, 2)
	if prompt != "" {
		parts = append(parts, genai.NewPartFromText(prompt))
	}
	parts = append(parts, genai.NewPartFromBytes(data, mimeType))
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{
		SafetySettings: c.cfg.SafetySettings,
		ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: c.cfg.ThinkingBudget},
	}

	c.logger.Info("llm.gemini.stream.start",
		"req_id", reqID,
		"model", model,
		"mime_type", mimeType,
		"bytes", len(data),
	)

	var b strings.Builder
	chunks := 0
	for resp, err := range c.stream(ctx, model, contents, cfg) {
		if err != nil {
			c.logger.Error("llm.gemini.stream.error",
				"req_id", reqID,
				"error", err,
				"chunks", chunks,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return "", fmt.Errorf("%w: gemini: %w", llm.ErrStreamAborted, err)
		}
		if resp == nil {
			continue
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		chunks++
		b.WriteString(text)
		onDelta.Emit(text)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	out := b.String()
	c.logger.Info("llm.gemini.stream.done",
		"req_id", reqID,
		"model", model,
		"chunks", chunks,
		"chars", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if strings.TrimSpace(out) == "" {
		return "", llm.ErrEmptyResponse
	}
	return out, nil
}

// ListModels pages through the model catalog.
func (c *Client) ListModels(ctx context.Context) ([]llm.Model, error) {
	var out []llm.Model
	for m, err := range c.list(ctx) {
		if err != nil {
			c.logger.Warn("llm.gemini.models.error", "error", err)
			return nil, fmt.Errorf("gemini: list models: %w", err)
		}
		if m == nil {
			continue
		}
		display := m.DisplayName
		if display == "" {
			display = m.Name
		}
		out = append(out, llm.Model{Name: strings.TrimPrefix(m.Name, "models/"), DisplayName: display})
	}
	return out, nil
}
