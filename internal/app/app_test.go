package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/entity"
	"github.com/joseph-ayodele/homework-scanner/internal/llm"
	"github.com/joseph-ayodele/homework-scanner/internal/sources"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const solved = `{"problems":[{"problem":"3x = 9","answer":"x = 3","explanation":"divide by 3"}]}`

type stubClient struct{}

func (stubClient) SetSystemPrompt(string) {}

func (stubClient) SendMedia(context.Context, []byte, string, string, string, llm.DeltaFunc) (string, error) {
	return solved, nil
}

func (stubClient) ListModels(context.Context) ([]llm.Model, error) { return nil, nil }

func stubClients(context.Context, sources.Source) (llm.Client, error) { return stubClient{}, nil }

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	cfg := common.Defaults()
	cfg.Scan.PreviewDir = t.TempDir()
	cfg.Sources = []common.SourceConfig{{ID: "g", Name: "Gemini", Provider: "google", APIKey: "k", Model: "gemini-2.5-pro"}}
	return cfg
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewWithHistoryRecordsRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.DSN = ":memory:"

	ctx := context.Background()
	a, err := New(ctx, cfg, quiet(), WithClients(stubClients))
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.History)
	require.NoError(t, a.HealthCheck(ctx))

	active, ok := a.Sources.Active()
	require.True(t, ok)
	assert.Equal(t, "g", active.ID)
	assert.Equal(t, constants.ProviderGemini, active.Provider)

	historyCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.StartHistory(historyCtx)
	}()
	defer func() {
		stop()
		<-done
	}()
	require.Eventually(t, func() bool { return a.Store.Subscribers() > 0 }, time.Second, 5*time.Millisecond)

	item, err := a.Ingestor.IngestFile(ctx, entity.File{Name: "eq.png", Data: []byte("png")})
	require.NoError(t, err)
	assert.Equal(t, constants.SourceUpload, item.Source)

	sum, err := a.Scanner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)

	runs, err := a.History.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sum.RunID, runs[0].ID)
	assert.NotNil(t, runs[0].FinishedAt)

	require.Eventually(t, func() bool {
		recs, err := a.History.ListSolutions(ctx, nil, 10)
		return err == nil && len(recs) == 1 && recs[0].FileName == "eq.png"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewWithoutDatabase(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), quiet(), WithClients(stubClients), WithItemSource(constants.SourceWatch))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.History)
	assert.Nil(t, a.Recorder)
	assert.NoError(t, a.HealthCheck(context.Background()))
	a.StartHistory(context.Background())

	item, err := a.Ingestor.IngestFile(context.Background(), entity.File{Name: "a.jpg", Data: []byte("jpg")})
	require.NoError(t, err)
	assert.Equal(t, constants.SourceWatch, item.Source)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources[0].Provider = "llama"
	_, err := New(context.Background(), cfg, quiet())
	require.Error(t, err)
	assert.Equal(t, common.CodeConfig, common.CodeOf(err))
}
