// Package openai adapts the OpenAI Responses API to llm.Client.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/llm"
)

var _ llm.Client = (*Client)(nil)

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type inputMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// response is the subset of a Responses API object we read.
type response struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	OutputText string    `json:"output_text"`
	Error      *apiError `json:"error"`
	Output     []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

func (r *response) text() string {
	if s := strings.TrimSpace(r.OutputText); s != "" {
		return s
	}
	var b strings.Builder
	for _, item := range r.Output {
		for _, part := range item.Content {
			if part.Type == "output_text" || part.Type == "text" {
				b.WriteString(part.Text)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

type streamEvent struct {
	Type     string    `json:"type"`
	Delta    string    `json:"delta"`
	Message  string    `json:"message"`
	Error    *apiError `json:"error"`
	Response *response `json:"response"`
}

func (c *Client) SetSystemPrompt(prompt string) { c.systemPrompt = prompt }

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
}

func (c *Client) buildInput(data []byte, mimeType, prompt string) []inputMessage {
	input := make([]inputMessage, 0, 2)
	if c.systemPrompt != "" {
		input = append(input, inputMessage{
			Role:    "system",
			Content: []contentPart{{Type: "input_text", Text: c.systemPrompt}},
		})
	}
	user := make([]contentPart, 0, 2)
	if prompt != "" {
		user = append(user, contentPart{Type: "input_text", Text: prompt})
	}
	user = append(user, contentPart{Type: "input_image", ImageURL: llm.DataURL(mimeType, data)})
	return append(input, inputMessage{Role: "user", Content: user})
}

// SendMedia sends one image. PDFs are rejected with llm.ErrUnsupported.
func (c *Client) SendMedia(ctx context.Context, data []byte, mimeType, prompt, model string, onDelta llm.DeltaFunc) (string, error) {
	if err := llm.CheckMedia(data, mimeType, c.cfg.MaxMediaMB); err != nil {
		return "", err
	}
	if constants.IsPDF(mimeType) {
		return "", fmt.Errorf("%w: openai accepts images only", llm.ErrUnsupported)
	}
	if model == "" {
		model = defaultModel
	}

	// MaxPoll bounds the whole call in both modes.
	callCtx, cancel := context.WithTimeoutCause(ctx, c.cfg.MaxPoll, llm.ErrPollTimeout)
	defer cancel()

	reqID := uuid.New().String()
	start := time.Now()
	c.logger.Info("llm.openai.request.start",
		"req_id", reqID,
		"model", model,
		"mode", c.cfg.Mode,
		"mime_type", mimeType,
		"bytes", len(data),
	)

	input := c.buildInput(data, mimeType, prompt)
	var (
		out string
		err error
	)
	if c.cfg.Mode == ModePoll {
		out, err = c.poll(callCtx, reqID, model, input, onDelta)
	} else {
		out, err = c.stream(callCtx, reqID, model, input, onDelta)
	}
	if err != nil {
		if ctx.Err() == nil && errors.Is(context.Cause(callCtx), llm.ErrPollTimeout) {
			err = fmt.Errorf("%w after %s", llm.ErrPollTimeout, c.cfg.MaxPoll)
		}
		c.logger.Error("llm.openai.request.error",
			"req_id", reqID,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", err
	}

	c.logger.Info("llm.openai.request.done",
		"req_id", reqID,
		"chars", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (c *Client) stream(ctx context.Context, reqID, model string, input []inputMessage, onDelta llm.DeltaFunc) (string, error) {
	body, err := json.Marshal(map[string]any{"model": model, "input": input, "stream": true})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/responses", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai http error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("llm.openai.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(resp.Body)
		return "", &llm.StatusError{Status: resp.StatusCode, Body: string(raw)}
	}

	var (
		agg       strings.Builder
		completed bool
		final     *response
	)
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return "", fmt.Errorf("%w: malformed frame: %w", llm.ErrStreamAborted, err)
		}
		switch ev.Type {
		case "response.output_text.delta":
			agg.WriteString(ev.Delta)
			onDelta.Emit(ev.Delta)
		case "response.error", "error":
			return "", fmt.Errorf("openai stream error: %s", ev.errorMessage())
		case "response.failed", "response.incomplete":
			return "", fmt.Errorf("openai %s: %s", strings.TrimPrefix(ev.Type, "response."), ev.errorMessage())
		case "response.completed":
			completed = true
			final = ev.Response
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", llm.ErrStreamAborted, err)
	}
	if !completed {
		return "", fmt.Errorf("%w: stream closed before response.completed", llm.ErrStreamAborted)
	}

	out := strings.TrimSpace(agg.String())
	if out == "" && final != nil {
		out = final.text()
	}
	if out == "" {
		return "", llm.ErrEmptyResponse
	}
	return out, nil
}

func (e streamEvent) errorMessage() string {
	switch {
	case e.Error != nil && e.Error.Message != "":
		return e.Error.Message
	case e.Message != "":
		return e.Message
	case e.Response != nil && e.Response.Error != nil:
		return e.Response.Error.Message
	}
	return "unknown error"
}

// poll creates a background response and fetches it until it reaches a terminal
// status. The completed text is delivered as a single delta.
func (c *Client) poll(ctx context.Context, reqID, model string, input []inputMessage, onDelta llm.DeltaFunc) (string, error) {
	raw, err := llm.DoJSON(ctx, c.http, http.MethodPost, c.base+"/responses",
		map[string]any{"model": model, "input": input, "background": true}, c.headers(), c.logger)
	if err != nil {
		return "", err
	}
	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if r.ID == "" {
		return "", fmt.Errorf("openai: background response without id")
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	polls := 0
	for {
		switch r.Status {
		case "completed":
			out := r.text()
			if out == "" {
				return "", llm.ErrEmptyResponse
			}
			onDelta.Emit(out)
			return out, nil
		case "failed", "cancelled", "incomplete":
			msg := "no detail"
			if r.Error != nil && r.Error.Message != "" {
				msg = r.Error.Message
			}
			return "", fmt.Errorf("openai response %s: %s", r.Status, msg)
		}

		select {
		case <-ctx.Done():
			c.cancelBackground(r.ID, reqID)
			return "", ctx.Err()
		case <-ticker.C:
		}

		polls++
		raw, err := llm.DoJSON(ctx, c.http, http.MethodGet, c.base+"/responses/"+r.ID, nil, c.headers(), c.logger)
		if err != nil {
			if ctx.Err() != nil {
				c.cancelBackground(r.ID, reqID)
			}
			return "", err
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			return "", fmt.Errorf("decode openai response: %w", err)
		}
		c.logger.Debug("llm.openai.poll", "req_id", reqID, "response_id", r.ID, "status", r.Status, "polls", polls)
	}
}

// cancelBackground asks the API to stop a background response we no longer wait for.
func (c *Client) cancelBackground(id, reqID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := llm.DoJSON(ctx, c.http, http.MethodPost, c.base+"/responses/"+id+"/cancel", nil, c.headers(), c.logger); err != nil {
		c.logger.Warn("llm.openai.cancel_failed", "req_id", reqID, "response_id", id, "error", err)
	}
}

// ListModels returns the model ids visible to the key.
func (c *Client) ListModels(ctx context.Context) ([]llm.Model, error) {
	raw, err := llm.DoJSON(ctx, c.http, http.MethodGet, c.base+"/models", nil, c.headers(), c.logger)
	if err != nil {
		c.logger.Warn("llm.openai.models.error", "error", err)
		return nil, fmt.Errorf("openai: list models: %w", err)
	}
	var page struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("openai: decode models: %w", err)
	}
	out := make([]llm.Model, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, llm.Model{Name: m.ID, DisplayName: m.ID})
	}
	return out, nil
}
