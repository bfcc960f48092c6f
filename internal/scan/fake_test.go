package scan

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/entity"
	"github.com/joseph-ayodele/homework-scanner/internal/llm"
	"github.com/joseph-ayodele/homework-scanner/internal/llm/provider"
	"github.com/joseph-ayodele/homework-scanner/internal/retry"
	"github.com/joseph-ayodele/homework-scanner/internal/sources"
	"github.com/joseph-ayodele/homework-scanner/internal/store"
)

const okJSON = `{"problems":[{"problem":"2+2","answer":"4","explanation":"count"}]}`

// behavior decides what one SendMedia call returns.
type behavior func(ctx context.Context, file string, attempt int, onDelta llm.DeltaFunc) (string, error)

func succeed(text string) behavior {
	return func(_ context.Context, _ string, _ int, onDelta llm.DeltaFunc) (string, error) {
		half := len(text) / 2
		onDelta.Emit(text[:half])
		onDelta.Emit(text[half:])
		return text, nil
	}
}

func failWith(format string) behavior {
	return func(_ context.Context, _ string, attempt int, onDelta llm.DeltaFunc) (string, error) {
		onDelta.Emit("partial")
		return "", fmt.Errorf(format, attempt)
	}
}

type call struct {
	source  string
	file    string
	attempt int
	system  string
}

// fakeAI records every SendMedia call across all clients it hands out.
type fakeAI struct {
	mu        sync.Mutex
	behaviors map[string]behavior
	calls     []call
	attempts  map[string]int // source+file -> attempts so far
	factoryN  int
}

func newFakeAI(b map[string]behavior) *fakeAI {
	return &fakeAI{behaviors: b, attempts: map[string]int{}}
}

func (f *fakeAI) factory() provider.Factory {
	return func(_ context.Context, src sources.Source) (llm.Client, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.factoryN++
		b, ok := f.behaviors[src.ID]
		if !ok {
			return nil, fmt.Errorf("no behavior for %s", src.ID)
		}
		return &fakeClient{ai: f, source: src.ID, b: b}, nil
	}
}

func (f *fakeAI) callsFor(source, file string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.source == source && c.file == file {
			n++
		}
	}
	return n
}

func (f *fakeAI) sourcesFor(file string) map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]bool{}
	for _, c := range f.calls {
		if c.file == file {
			out[c.source] = true
		}
	}
	return out
}

type fakeClient struct {
	ai     *fakeAI
	source string
	b      behavior
	system string
}

func (c *fakeClient) SetSystemPrompt(p string) { c.system = p }

func (c *fakeClient) SendMedia(ctx context.Context, data []byte, _ string, _ string, _ string, onDelta llm.DeltaFunc) (string, error) {
	file := string(data)
	c.ai.mu.Lock()
	key := c.source + "|" + file
	c.ai.attempts[key]++
	attempt := c.ai.attempts[key]
	c.ai.calls = append(c.ai.calls, call{source: c.source, file: file, attempt: attempt, system: c.system})
	c.ai.mu.Unlock()
	return c.b(ctx, file, attempt, onDelta)
}

func (c *fakeClient) ListModels(context.Context) ([]llm.Model, error) { return nil, nil }

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func fastPolicy(rec *sleepRecorder) retry.Policy {
	return retry.Policy{MaxAttempts: 5, InitialDelay: 5000 * time.Millisecond, Sleep: rec.sleep}
}

type notifications struct {
	mu  sync.Mutex
	got []Notification
}

func (n *notifications) Notify(x Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, x)
}

func (n *notifications) kinds() []NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationKind, len(n.got))
	for i, x := range n.got {
		out[i] = x.Kind
	}
	return out
}

func gemini(id, key string) sources.Source {
	return sources.Source{ID: id, Name: id, Provider: constants.ProviderGemini, APIKey: key, Model: "gemini-2.5-pro", Enabled: true}
}

func openAI(id, key string) sources.Source {
	return sources.Source{ID: id, Name: id, Provider: constants.ProviderOpenAI, APIKey: key, Model: "gpt-4.1-mini", Enabled: true}
}

func addFiles(t *testing.T, st store.Store, names ...string) []entity.FileItem {
	t.Helper()
	items := make([]entity.FileItem, 0, len(names))
	for _, n := range names {
		items = append(items, entity.FileItem{File: entity.File{
			Name:     n,
			Data:     []byte(n),
			MimeType: constants.MimeForExt(filepath.Ext(n)),
		}})
	}
	added, err := st.AddItems(items...)
	require.NoError(t, err)
	return added
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type harness struct {
	store    *store.Memory
	registry *sources.Registry
	ai       *fakeAI
	sleeps   *sleepRecorder
	notes    *notifications
	scanner  *Scanner
}

func newHarness(t *testing.T, srcs []sources.Source, active string, b map[string]behavior, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewMemory(nil, quietLogger()),
		registry: sources.NewRegistry(srcs, active),
		ai:       newFakeAI(b),
		sleeps:   &sleepRecorder{},
		notes:    &notifications{},
	}
	base := []Option{
		WithLogger(quietLogger()),
		WithRetryPolicy(fastPolicy(h.sleeps)),
		WithNotifier(h.notes),
		WithShuffler(sources.NoShuffle{}),
	}
	h.scanner = New(h.store, h.registry, h.ai.factory(), append(base, opts...)...)
	return h
}
