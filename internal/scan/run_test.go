package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/llm"
	"github.com/joseph-ayodele/homework-scanner/internal/sources"
	"github.com/joseph-ayodele/homework-scanner/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func TestRun_Preconditions(t *testing.T) {
	tests := []struct {
		name  string
		srcs  []sources.Source
		files []string
		want  error
	}{
		{
			name:  "no eligible source wins over empty queue",
			srcs:  []sources.Source{gemini("a", "")},
			files: nil,
			want:  ErrNoSource,
		},
		{
			name:  "disabled sources are not eligible",
			srcs:  []sources.Source{func() sources.Source { s := gemini("a", "k"); s.Enabled = false; return s }()},
			files: []string{"a.png"},
			want:  ErrNoSource,
		},
		{
			name:  "missing model",
			srcs:  []sources.Source{func() sources.Source { s := openAI("a", "k"); s.Model = ""; return s }()},
			files: []string{"a.png"},
			want:  ErrNoModel,
		},
		{
			name:  "pdf with openai only",
			srcs:  []sources.Source{openAI("a", "k")},
			files: []string{"a.png", "doc.pdf"},
			want:  ErrPDFBlocked,
		},
		{
			name:  "nothing pending",
			srcs:  []sources.Source{gemini("a", "k")},
			files: nil,
			want:  ErrNothingToDo,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.srcs, "", map[string]behavior{"a": succeed(okJSON)})
			if len(tt.files) > 0 {
				addFiles(t, h.store, tt.files...)
			}
			_, err := h.scanner.Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, h.ai.factoryN, "no client may be created before preconditions pass")
			assert.Empty(t, h.store.Solutions())
			assert.Empty(t, h.notes.kinds())
			assert.False(t, h.scanner.Running())
		})
	}
}

func TestRun_PDFBlockedNamesFile(t *testing.T) {
	h := newHarness(t, []sources.Source{openAI("a", "k")}, "", nil)
	addFiles(t, h.store, "worksheet.pdf")
	_, err := h.scanner.Run(context.Background())
	require.ErrorIs(t, err, ErrPDFBlocked)
	assert.Contains(t, err.Error(), "worksheet.pdf")
	assert.Equal(t, common.CodePDFBlocked, common.CodeOf(err))
}

func TestRun_SucceedsOnActiveSource(t *testing.T) {
	h := newHarness(t,
		[]sources.Source{gemini("a", "k1"), openAI("b", "k2")}, "b",
		map[string]behavior{"a": succeed(okJSON), "b": succeed(okJSON)})
	items := addFiles(t, h.store, "p1.png")

	sum, err := h.scanner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Zero(t, sum.Failed)

	sol, ok := h.store.Solution(items[0].URL)
	require.True(t, ok)
	assert.Equal(t, constants.SolutionSuccess, sol.Status)
	assert.Equal(t, "b", sol.AISourceID)
	assert.Empty(t, sol.StreamedOutput)
	require.Len(t, sol.Problems, 1)
	assert.Equal(t, "4", sol.Problems[0].Answer)

	it, _ := h.store.Item(items[0].ID)
	assert.Equal(t, constants.ItemSuccess, it.Status)
	assert.Zero(t, h.ai.callsFor("a", "p1.png"))
	assert.Equal(t, []NotificationKind{NotifyStarted, NotifyDone}, h.notes.kinds())
	assert.False(t, h.store.Working())
}

func TestRun_SummaryMatchesDoneNotification(t *testing.T) {
	tests := []struct {
		name          string
		behave        behavior
		wantSucceeded int
		wantFailed    int
	}{
		{name: "all succeed", behave: succeed(okJSON), wantSucceeded: 2},
		{name: "all fail", behave: failWith("boom (attempt %d)"), wantFailed: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, []sources.Source{gemini("a", "k")}, "", map[string]behavior{"a": tt.behave})
			var mu sync.Mutex
			clock := time.Unix(1_700_000_000, 0)
			h.scanner.now = func() time.Time {
				mu.Lock()
				defer mu.Unlock()
				clock = clock.Add(time.Second)
				return clock
			}
			addFiles(t, h.store, "p1.png", "p2.png")

			sum, err := h.scanner.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 2, sum.Items)
			assert.Equal(t, tt.wantSucceeded, sum.Succeeded)
			assert.Equal(t, tt.wantFailed, sum.Failed)
			assert.Zero(t, sum.Skipped)
			assert.Positive(t, sum.Elapsed)

			h.notes.mu.Lock()
			done := h.notes.got[len(h.notes.got)-1]
			h.notes.mu.Unlock()
			require.Equal(t, NotifyDone, done.Kind)
			assert.Equal(t, sum.RunID.String(), done.RunID)
			assert.Equal(t, sum.Succeeded, done.Succeeded)
			assert.Equal(t, sum.Failed, done.Failed)
		})
	}
}

func TestRun_TraitsReachSystemPrompt(t *testing.T) {
	src := gemini("a", "k")
	src.Traits = "explain like a tutor"
	h := newHarness(t, []sources.Source{src}, "", map[string]behavior{"a": succeed(okJSON)})
	addFiles(t, h.store, "p1.png")

	_, err := h.scanner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, h.ai.calls, 1)
	assert.Contains(t, h.ai.calls[0].system, "<traits>")
	assert.Contains(t, h.ai.calls[0].system, "explain like a tutor")
}

func TestRun_FallsBackToNextSource(t *testing.T) {
	h := newHarness(t,
		[]sources.Source{gemini("a", "k1"), openAI("b", "k2")}, "a",
		map[string]behavior{"a": failWith("quota exceeded (attempt %d)"), "b": succeed(okJSON)})
	items := addFiles(t, h.store, "p1.png")

	events, stop := h.store.Subscribe(1024)
	defer stop()

	sum, err := h.scanner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)

	sol, _ := h.store.Solution(items[0].URL)
	assert.Equal(t, constants.SolutionSuccess, sol.Status)
	assert.Equal(t, "b", sol.AISourceID)
	assert.Equal(t, retryAttempts, h.ai.callsFor("a", "p1.png"))
	assert.Equal(t, 1, h.ai.callsFor("b", "p1.png"))

	stop()
	for ev := range events {
		if ev.Type == store.EventSolutionUpdated && ev.Solution != nil {
			assert.NotEqual(t, constants.SolutionFailed, ev.Solution.Status, "failure record must not be written when a later source succeeds")
		}
	}
}

const retryAttempts = 5

func TestRun_ExhaustionWritesOneFailureRecord(t *testing.T) {
	h := newHarness(t,
		[]sources.Source{gemini("a", "k1"), openAI("b", "k2")}, "a",
		map[string]behavior{
			"a": failWith("gemini down (attempt %d)"),
			"b": failWith("openai down (attempt %d)"),
		})
	items := addFiles(t, h.store, "p1.png")

	sum, err := h.scanner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	sol, ok := h.store.Solution(items[0].URL)
	require.True(t, ok)
	assert.Equal(t, constants.SolutionFailed, sol.Status)
	assert.Empty(t, sol.AISourceID)
	assert.Empty(t, sol.StreamedOutput)
	require.Len(t, sol.Problems, 1)
	assert.Equal(t, FailureProblem, sol.Problems[0].Problem)
	assert.Equal(t, FailureAnswer, sol.Problems[0].Answer)
	assert.Contains(t, sol.Problems[0].Explanation, "openai down (attempt 5)")

	it, _ := h.store.Item(items[0].ID)
	assert.Equal(t, constants.ItemFailed, it.Status)
	assert.Len(t, h.store.Solutions(), 1)
}

func TestRun_RetryAttemptsAndDelays(t *testing.T) {
	h := newHarness(t, []sources.Source{gemini("a", "k")}, "",
		map[string]behavior{"a": failWith("boom %d")})
	addFiles(t, h.store, "p1.png")

	_, err := h.scanner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, retryAttempts, h.ai.callsFor("a", "p1.png"))
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second}, h.sleeps.delays)
}

func TestRun_RecoversWithinRetries(t *testing.T) {
	flaky := func(ctx context.Context, file string, attempt int, onDelta llm.DeltaFunc) (string, error) {
		if attempt < 3 {
			return failWith("transient %d")(ctx, file, attempt, onDelta)
		}
		return succeed(okJSON)(ctx, file, attempt, onDelta)
	}
	h := newHarness(t, []sources.Source{gemini("a", "k"), openAI("b", "k")}, "a",
		map[string]behavior{"a": flaky, "b": succeed(okJSON)})
	items := addFiles(t, h.store, "p1.png")

	_, err := h.scanner.Run(context.Background())
	require.NoError(t, err)
	sol, _ := h.store.Solution(items[0].URL)
	assert.Equal(t, "a", sol.AISourceID)
	assert.Equal(t, 3, h.ai.callsFor("a", "p1.png"))
	assert.Zero(t, h.ai.callsFor("b", "p1.png"))
	assert.Len(t, h.sleeps.delays, 2)
}

func TestRun_UnparseableReplyMovesOn(t *testing.T) {
	h := newHarness(t, []sources.Source{gemini("a", "k"), openAI("b", "k")}, "a",
		map[string]behavior{"a": succeed("I cannot read this image."), "b": succeed(okJSON)})
	items := addFiles(t, h.store, "p1.png")

	_, err := h.scanner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.ai.callsFor("a", "p1.png"), "a parse failure is not retried on the same source")
	sol, _ := h.store.Solution(items[0].URL)
	assert.Equal(t, "b", sol.AISourceID)
}

func TestRun_RerunReplacesSolution(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	b := func(ctx context.Context, file string, attempt int, onDelta llm.DeltaFunc) (string, error) {
		if fail.Load() {
			return "", errors.New("down")
		}
		return succeed(okJSON)(ctx, file, attempt, onDelta)
	}
	h := newHarness(t, []sources.Source{gemini("a", "k")}, "", map[string]behavior{"a": b})
	items := addFiles(t, h.store, "p1.png", "p2.png")

	_, err := h.scanner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, h.store.Solutions(), 2)

	events, stop := h.store.Subscribe(1024)
	fail.Store(false)
	sum, err := h.scanner.Run(context.Background())
	require.NoError(t, err)
	stop()
	assert.Equal(t, 2, sum.Items)
	assert.Equal(t, 2, sum.Succeeded)

	// Old records are removed before any new record appears for the same URL.
	removed := map[string]bool{}
	for ev := range events {
		switch ev.Type {
		case store.EventSolutionRemoved:
			removed[ev.URL] = true
		case store.EventSolutionUpdated:
			assert.True(t, removed[ev.URL], "solution for %s written before the stale one was removed", ev.URL)
		}
	}

	sols := h.store.Solutions()
	require.Len(t, sols, 2)
	for _, it := range items {
		sol, ok := h.store.Solution(it.URL)
		require.True(t, ok)
		assert.Equal(t, constants.SolutionSuccess, sol.Status)
	}

	_, err = h.scanner.Run(context.Background())
	assert.ErrorIs(t, err, ErrNothingToDo, "successful items are not picked up again")
}

func TestRun_BoundedConcurrency(t *testing.T) {
	cases := []struct{ items, workers int }{
		{items: 1, workers: 4},
		{items: 3, workers: 4},
		{items: 10, workers: 4},
		{items: 9, workers: 2},
		{items: 6, workers: 1},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_items_%d_workers", tc.items, tc.workers), func(t *testing.T) {
			var inFlight, peak atomic.Int32
			var st *store.Memory
			var overProcessing atomic.Bool
			b := func(ctx context.Context, file string, attempt int, onDelta llm.DeltaFunc) (string, error) {
				n := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				processing := 0
				for _, it := range st.Items() {
					if it.Status == constants.ItemProcessing {
						processing++
					}
				}
				if processing > tc.workers {
					overProcessing.Store(true)
				}
				time.Sleep(2 * time.Millisecond)
				return succeed(okJSON)(ctx, file, attempt, onDelta)
			}
			h := newHarness(t, []sources.Source{gemini("a", "k")}, "",
				map[string]behavior{"a": b}, WithConcurrency(tc.workers))
			st = h.store
			names := make([]string, tc.items)
			for i := range names {
				names[i] = fmt.Sprintf("p%d.png", i)
			}
			addFiles(t, h.store, names...)

			sum, err := h.scanner.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.items, sum.Succeeded)
			assert.LessOrEqual(t, int(peak.Load()), min(tc.workers, tc.items))
			assert.False(t, overProcessing.Load(), "more items in processing than workers")
			for _, n := range names {
				assert.Equal(t, 1, h.ai.callsFor("a", n), "each item is claimed exactly once")
			}
		})
	}
}

// Two files, two sources: Gemini has a bad key, OpenAI works. The PDF can only
// go to Gemini and fails; the image falls back to OpenAI.
func TestRun_MixedMediaWithBrokenGemini(t *testing.T) {
	h := newHarness(t,
		[]sources.Source{gemini("gem", "bad-key"), openAI("oai", "good-key")}, "gem",
		map[string]behavior{
			"gem": failWith("API key not valid. Please pass a valid API key. (attempt %d)"),
			"oai": succeed(okJSON),
		})
	items := addFiles(t, h.store, "img1.png", "doc1.pdf")

	sum, err := h.scanner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)

	assert.Equal(t, map[string]bool{"gem": true}, h.ai.sourcesFor("doc1.pdf"))
	assert.Equal(t, map[string]bool{"gem": true, "oai": true}, h.ai.sourcesFor("img1.png"))

	img, _ := h.store.Solution(items[0].URL)
	assert.Equal(t, constants.SolutionSuccess, img.Status)
	assert.Equal(t, "oai", img.AISourceID)

	doc, _ := h.store.Solution(items[1].URL)
	assert.Equal(t, constants.SolutionFailed, doc.Status)
	require.Len(t, doc.Problems, 1)
	assert.Contains(t, doc.Problems[0].Explanation, "API key not valid")

	ordered := h.store.OrderedSolutions()
	require.Len(t, ordered, 2)
	assert.Equal(t, "img1.png", ordered[0].Item.File.Name)
	assert.Equal(t, "doc1.pdf", ordered[1].Item.File.Name)
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	b := func(ctx context.Context, file string, attempt int, onDelta llm.DeltaFunc) (string, error) {
		once.Do(func() { close(started) })
		<-release
		return succeed(okJSON)(ctx, file, attempt, onDelta)
	}
	h := newHarness(t, []sources.Source{gemini("a", "k")}, "", map[string]behavior{"a": b})
	addFiles(t, h.store, "p1.png")

	done := make(chan error, 1)
	go func() {
		_, err := h.scanner.Run(context.Background())
		done <- err
	}()
	<-started
	assert.True(t, h.scanner.Running())
	assert.True(t, h.store.Working())

	_, err := h.scanner.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, h.scanner.Running())
	assert.False(t, h.store.Working())
}

func TestRun_CancelStopsClaiming(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := func(ctx context.Context, file string, attempt int, onDelta llm.DeltaFunc) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}
	h := newHarness(t, []sources.Source{gemini("a", "k")}, "", map[string]behavior{"a": b}, WithConcurrency(1))
	addFiles(t, h.store, "p1.png", "p2.png", "p3.png")

	sum, err := h.scanner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Items)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Skipped)
	assert.Len(t, h.ai.calls, 1)
	assert.Equal(t, NotifyDone, h.notes.kinds()[len(h.notes.kinds())-1])
}

func TestRun_ItemRemovedMidRun(t *testing.T) {
	var st *store.Memory
	b := func(ctx context.Context, file string, attempt int, onDelta llm.DeltaFunc) (string, error) {
		for _, it := range st.Items() {
			if it.File.Name == file {
				assert.NoError(t, st.RemoveItem(it.ID))
			}
		}
		return succeed(okJSON)(ctx, file, attempt, onDelta)
	}
	h := newHarness(t, []sources.Source{gemini("a", "k")}, "", map[string]behavior{"a": b})
	st = h.store
	addFiles(t, h.store, "p1.png")

	sum, err := h.scanner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Empty(t, h.store.Solutions())
}

func TestFailureRecord(t *testing.T) {
	rec := FailureRecord(fmt.Errorf("b: %w", errors.New("401 unauthorized")))
	assert.Equal(t, "Processing failed after multiple retries.", rec.Problem)
	assert.True(t, strings.HasSuffix(rec.Explanation, "401 unauthorized"))
	assert.Equal(t, "unknown error", FailureRecord(nil).Explanation)
}
