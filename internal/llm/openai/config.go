package openai

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultRoot  = "https://api.openai.com"
	pathSuffix   = "/v1"
	ModeStream   = "stream"
	ModePoll     = "poll"
	defaultModel = "gpt-4.1-mini"
)

// Config for the OpenAI client.
type Config struct {
	APIKey       string
	BaseURL      string        // default https://api.openai.com; "/v1" is appended when missing
	Mode         string        // stream (default) or poll
	PollInterval time.Duration // poll mode only; default 1s
	MaxPoll      time.Duration // wall-clock budget for one call in either mode; default 30s
	MaxMediaMB   int
	HTTPClient   *http.Client
}

// Client implements llm.Client over the Responses API.
type Client struct {
	cfg          Config
	base         string
	http         *http.Client
	systemPrompt string
	logger       *slog.Logger
}

// NormalizeBaseURL trims a trailing slash and makes sure the URL ends in /v1.
func NormalizeBaseURL(baseURL string) string {
	u := strings.TrimSpace(baseURL)
	if u == "" {
		u = defaultRoot
	}
	u = strings.TrimRight(u, "/")
	if strings.HasSuffix(u, pathSuffix) {
		return u
	}
	return u + pathSuffix
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Mode == "" {
		cfg.Mode = ModeStream
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxPoll <= 0 {
		cfg.MaxPoll = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		// MaxPoll bounds each call, so the transport itself carries no timeout.
		hc = &http.Client{}
	}
	return &Client{
		cfg:    cfg,
		base:   NormalizeBaseURL(cfg.BaseURL),
		http:   hc,
		logger: logger.With("provider", "openai"),
	}
}
