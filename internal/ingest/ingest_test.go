package ingest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/async"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/entity"
	"github.com/joseph-ayodele/homework-scanner/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestAllowedExtAndHidden(t *testing.T) {
	assert.True(t, AllowedExt(".PNG"))
	assert.True(t, AllowedExt("pdf"))
	assert.True(t, AllowedExt(".webp"))
	assert.False(t, AllowedExt(".txt"))
	assert.False(t, AllowedExt(""))
	assert.True(t, IsHidden("/a/.git"))
	assert.False(t, IsHidden("/a/b.png"))
	assert.False(t, IsHidden("."))
}

func TestIngestDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"), []byte("png-a"))
	writeFile(t, filepath.Join(root, "b.JPG"), []byte("jpg-b"))
	writeFile(t, filepath.Join(root, "notes.txt"), []byte("ignored"))
	writeFile(t, filepath.Join(root, ".cache", "c.png"), []byte("hidden"))
	writeFile(t, filepath.Join(root, "sub", "d.webp"), []byte("webp-d"))
	writeFile(t, filepath.Join(root, "sub", "copy-of-a.png"), []byte("png-a"))
	writeFile(t, filepath.Join(root, "sub", "e.pdf"), minimalPDF(2))
	writeFile(t, filepath.Join(root, "broken.pdf"), []byte("%PDF-1.4 truncated"))

	st := store.NewMemory(nil, quiet())
	ing := NewFSIngestor(st, WithLogger(quiet()))
	results, stats, err := ing.IngestDirectory(context.Background(), root, true)
	require.NoError(t, err)

	assert.Equal(t, uint32(6), stats.Matched)
	assert.Equal(t, uint32(5), stats.Succeeded)
	assert.Equal(t, uint32(1), stats.Deduplicated)
	assert.Equal(t, uint32(1), stats.Failed)
	assert.Len(t, results, 6)

	items := st.Items()
	require.Len(t, items, 4)
	byName := map[string]entity.FileItem{}
	for _, it := range items {
		byName[it.File.Name] = it
		assert.Equal(t, constants.ItemPending, it.Status)
		assert.Equal(t, constants.SourceUpload, it.Source)
	}
	assert.Contains(t, byName, "a.png")
	assert.Equal(t, constants.MimeJPEG, byName["b.JPG"].File.MimeType)
	assert.Equal(t, constants.MimeWEBP, byName["d.webp"].File.MimeType)
	assert.Equal(t, 2, byName["e.pdf"].Pages)
	assert.NotContains(t, byName, "c.png")
	assert.NotContains(t, byName, "broken.pdf")
}

func TestIngestDirectory_RequiresRoot(t *testing.T) {
	ing := NewFSIngestor(store.NewMemory(nil, quiet()), WithLogger(quiet()))
	_, _, err := ing.IngestDirectory(context.Background(), "  ", false)
	assert.Equal(t, common.CodeValidation, common.CodeOf(err))
}

func TestIngestPath_Rejects(t *testing.T) {
	root := t.TempDir()
	big := filepath.Join(root, "big.png")
	writeFile(t, big, bytes.Repeat([]byte{1}, 2<<20))
	empty := filepath.Join(root, "empty.png")
	writeFile(t, empty, nil)

	st := store.NewMemory(nil, quiet())
	ing := NewFSIngestor(st, WithMaxMB(1), WithLogger(quiet()))

	_, err := ing.IngestPath(context.Background(), big)
	assert.ErrorIs(t, err, ErrTooLarge)
	_, err = ing.IngestPath(context.Background(), empty)
	assert.ErrorIs(t, err, ErrEmptyFile)
	_, err = ing.IngestPath(context.Background(), filepath.Join(root, "x.gif"))
	assert.ErrorIs(t, err, ErrUnsupportedExt)
	_, err = ing.IngestPath(context.Background(), filepath.Join(root, "missing.png"))
	assert.Error(t, err)
	assert.Empty(t, st.Items())
}

func TestIngestFile(t *testing.T) {
	st := store.NewMemory(nil, quiet())
	ing := NewFSIngestor(st, WithSource(constants.SourceCamera), WithLogger(quiet()))

	item, err := ing.IngestFile(context.Background(), entity.File{Name: "snap.jpeg", Data: []byte("jpeg")})
	require.NoError(t, err)
	assert.Equal(t, constants.MimeJPEG, item.File.MimeType)
	assert.Equal(t, constants.SourceCamera, item.Source)
	assert.NotEmpty(t, item.URL)

	again, err := ing.IngestFile(context.Background(), entity.File{Name: "snap-2.jpeg", Data: []byte("jpeg")})
	require.NoError(t, err)
	assert.Equal(t, item.ID, again.ID, "identical content is not added twice")

	// Once removed from the store the same content can come back.
	require.NoError(t, st.RemoveItem(item.ID))
	back, err := ing.IngestFile(context.Background(), entity.File{Name: "snap.jpeg", Data: []byte("jpeg")})
	require.NoError(t, err)
	assert.NotEqual(t, item.ID, back.ID)

	_, err = ing.IngestFile(context.Background(), entity.File{Name: "doc.docx", Data: []byte("x")})
	assert.Equal(t, common.CodeValidation, common.CodeOf(err))
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []async.Job
}

func (q *recordingQueue) Enqueue(_ context.Context, job async.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Shutdown(context.Context) {}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func TestWatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "existing.png"), []byte("old"))

	st := store.NewMemory(nil, quiet())
	ing := NewFSIngestor(st, WithSource(constants.SourceWatch), WithLogger(quiet()))
	q := &recordingQueue{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 20 * time.Millisecond}, ing, q, quiet())
	}()

	require.Eventually(t, func() bool { return len(st.Items()) == 1 }, 2*time.Second, 10*time.Millisecond)

	writeFile(t, filepath.Join(root, "new.png"), []byte("fresh"))
	writeFile(t, filepath.Join(root, "skip.txt"), []byte("nope"))
	require.Eventually(t, func() bool { return len(st.Items()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return q.len() == 2 }, 2*time.Second, 10*time.Millisecond)

	for _, it := range st.Items() {
		assert.Equal(t, constants.SourceWatch, it.Source)
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestStartWatcher_NoRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{}, quiet())
	assert.Error(t, err)
}
