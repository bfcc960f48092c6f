package repository

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/entity"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{DSN: ":memory:", DialTimeout: time.Second}, quiet())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(quiet()) })
	return db
}

func TestDialectFor(t *testing.T) {
	assert.Equal(t, DialectPostgres, DialectFor("postgres://u:p@localhost:5432/hw"))
	assert.Equal(t, DialectPostgres, DialectFor("PostgreSQL://localhost/hw"))
	assert.Equal(t, DialectSQLite, DialectFor("./history.db"))
	assert.Equal(t, DialectSQLite, DialectFor(":memory:"))
}

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: DialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	lite := &DB{Dialect: DialectSQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{}, quiet())
	assert.Equal(t, common.CodeConfig, common.CodeOf(err))
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewSolutionRepository(db, quiet())
	ctx := context.Background()

	id := uuid.New()
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.StartRun(ctx, entity.ScanRun{ID: id, StartedAt: started, Items: 3}))
	require.NoError(t, db.HealthCheck(ctx, time.Second))

	run, err := repo.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, run.Items)
	assert.True(t, run.StartedAt.Equal(started))
	assert.Nil(t, run.FinishedAt)

	finished := started.Add(time.Minute)
	msg := "worker panicked"
	require.NoError(t, repo.FinishRun(ctx, entity.ScanRun{ID: id, FinishedAt: &finished, Succeeded: 2, Failed: 1, Error: &msg}))

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Succeeded)
	assert.Equal(t, 1, runs[0].Failed)
	require.NotNil(t, runs[0].FinishedAt)
	assert.True(t, runs[0].FinishedAt.Equal(finished))
	require.NotNil(t, runs[0].Error)
	assert.Equal(t, msg, *runs[0].Error)

	_, err = repo.GetRun(ctx, uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, repo.FinishRun(ctx, entity.ScanRun{ID: uuid.New()}), common.ErrNotFound)
}

func TestSaveAndListSolutions(t *testing.T) {
	db := openTestDB(t)
	repo := NewSolutionRepository(db, quiet())
	ctx := context.Background()

	runA, runB := uuid.New(), uuid.New()
	item := entity.FileItem{URL: "/previews/a.png", File: entity.File{Name: "a.png", MimeType: constants.MimePNG}}

	_, err := repo.SaveSolution(ctx, &runA, item, entity.Solution{
		URL:        item.URL,
		Status:     constants.SolutionSuccess,
		AISourceID: "gem",
		Problems:   []entity.ProblemSolution{{Problem: "1+1", Answer: "2", Explanation: "sum"}},
	})
	require.NoError(t, err)
	_, err = repo.SaveSolution(ctx, &runB, item, entity.Solution{
		URL:      item.URL,
		Status:   constants.SolutionFailed,
		Problems: []entity.ProblemSolution{{Problem: "Processing failed after multiple retries."}},
	})
	require.NoError(t, err)
	_, err = repo.SaveSolution(ctx, nil, item, entity.Solution{URL: item.URL, Status: constants.SolutionSuccess})
	require.NoError(t, err)

	all, err := repo.ListSolutions(ctx, nil, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyA, err := repo.ListSolutions(ctx, &runA, 10)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	got := onlyA[0]
	assert.Equal(t, "a.png", got.FileName)
	assert.Equal(t, constants.MimePNG, got.MimeType)
	assert.Equal(t, "gem", got.AISourceID)
	require.NotNil(t, got.RunID)
	assert.Equal(t, runA, *got.RunID)
	assert.Equal(t, "2", got.Problems[0].Answer)

	_, err = repo.SaveSolution(ctx, nil, item, entity.Solution{URL: item.URL, Status: constants.SolutionProcessing})
	assert.ErrorIs(t, err, common.ErrConflict)
}
