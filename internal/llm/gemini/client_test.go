package gemini

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/joseph-ayodele/homework-scanner/internal/llm"
)

func textChunk(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(s, genai.RoleModel),
		}},
	}
}

type captured struct {
	model    string
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
}

func fakeStream(c *captured, chunks []string, tail error) streamFunc {
	return func(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
		c.model, c.contents, c.cfg = model, contents, cfg
		return func(yield func(*genai.GenerateContentResponse, error) bool) {
			for _, s := range chunks {
				if !yield(textChunk(s), nil) {
					return
				}
			}
			if tail != nil {
				yield(nil, tail)
			}
		}
	}
}

func TestSendMedia_StreamsDeltasAndConcatenates(t *testing.T) {
	got := &captured{}
	c := newClient(Config{APIKey: "k"}, fakeStream(got, []string{"{\"problems\":", "[]}"}, nil), nil, nil)
	c.SetSystemPrompt("be helpful")

	var deltas []string
	out, err := c.SendMedia(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png", "solve", "gemini-2.5-flash", func(s string) {
		deltas = append(deltas, s)
	})
	require.NoError(t, err)
	assert.Equal(t, `{"problems":[]}`, out)
	assert.Equal(t, []string{`{"problems":`, `[]}`}, deltas)

	assert.Equal(t, "gemini-2.5-flash", got.model)
	require.Len(t, got.contents, 2)
	assert.Equal(t, "be helpful", got.contents[0].Parts[0].Text)
	require.Len(t, got.contents[1].Parts, 2)
	assert.Equal(t, "solve", got.contents[1].Parts[0].Text)
	require.NotNil(t, got.contents[1].Parts[1].InlineData)
	assert.Equal(t, "image/png", got.contents[1].Parts[1].InlineData.MIMEType)

	require.NotNil(t, got.cfg.ThinkingConfig)
	assert.Equal(t, DefaultThinkingBudget, *got.cfg.ThinkingConfig.ThinkingBudget)
	require.Len(t, got.cfg.SafetySettings, 4)
	for _, s := range got.cfg.SafetySettings {
		assert.Equal(t, genai.HarmBlockThresholdBlockNone, s.Threshold)
	}
}

func TestSendMedia_NoSystemPromptSendsSingleTurn(t *testing.T) {
	got := &captured{}
	budget := int32(8192)
	c := newClient(Config{APIKey: "k", ThinkingBudget: &budget}, fakeStream(got, []string{"ok"}, nil), nil, nil)

	_, err := c.SendMedia(context.Background(), []byte("%PDF-1.7"), "application/pdf", "", "", nil)
	require.NoError(t, err)
	require.Len(t, got.contents, 1)
	require.Len(t, got.contents[0].Parts, 1)
	assert.Equal(t, "gemini-2.5-pro", got.model)
	assert.Equal(t, int32(8192), *got.cfg.ThinkingConfig.ThinkingBudget)
}

func TestSendMedia_MidStreamErrorRejects(t *testing.T) {
	cause := errors.New("connection reset")
	c := newClient(Config{APIKey: "k"}, fakeStream(&captured{}, []string{"partial"}, cause), nil, nil)

	out, err := c.SendMedia(context.Background(), []byte("x"), "image/jpeg", "", "m", nil)
	assert.Empty(t, out)
	assert.ErrorIs(t, err, llm.ErrStreamAborted)
	assert.ErrorIs(t, err, cause)
}

func TestSendMedia_EmptyResponse(t *testing.T) {
	c := newClient(Config{APIKey: "k"}, fakeStream(&captured{}, nil, nil), nil, nil)
	_, err := c.SendMedia(context.Background(), []byte("x"), "image/png", "", "m", nil)
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestSendMedia_RejectsEmptyMedia(t *testing.T) {
	c := newClient(Config{APIKey: "k"}, fakeStream(&captured{}, []string{"x"}, nil), nil, nil)
	_, err := c.SendMedia(context.Background(), nil, "image/png", "", "m", nil)
	assert.ErrorIs(t, err, llm.ErrEmptyMedia)
}

func TestListModels(t *testing.T) {
	list := func(context.Context) iter.Seq2[*genai.Model, error] {
		return func(yield func(*genai.Model, error) bool) {
			if !yield(&genai.Model{Name: "models/gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro"}, nil) {
				return
			}
			yield(&genai.Model{Name: "models/gemini-2.5-flash"}, nil)
		}
	}
	c := newClient(Config{APIKey: "k"}, nil, list, nil)
	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []llm.Model{
		{Name: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro"},
		{Name: "gemini-2.5-flash", DisplayName: "models/gemini-2.5-flash"},
	}, models)
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{}, nil)
	assert.Error(t, err)
}
