package common

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearScannerEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GEMINI_API_KEY", "OPENAI_API_KEY", "ACTIVE_SOURCE", "DB_URL", "WATCH_DIRS", "SCAN_CONCURRENCY", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	clearScannerEnv(t)
	path := filepath.Join(t.TempDir(), "scanner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scan:
  concurrency: 2
  initial_delay: 250ms
sources:
  - id: school
    provider: Google
    api_key: k1
    model: gemini-2.5-flash
active_source: school
`), 0o600))
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("SCAN_CONCURRENCY", "6")
	t.Setenv("WATCH_DIRS", "/a"+string(os.PathListSeparator)+"/b")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 6, cfg.Scan.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Scan.InitialDelay)
	assert.Equal(t, 5, cfg.Scan.MaxAttempts)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Ingest.WatchDirs)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "school", cfg.Sources[0].ID)
	assert.Equal(t, "env-openai", cfg.Sources[1].ID)
	assert.Equal(t, "school", cfg.ActiveSource)
}

func TestLoadConfigEnvKeyDoesNotDuplicateProvider(t *testing.T) {
	clearScannerEnv(t)
	path := filepath.Join(t.TempDir(), "scanner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources:\n  - id: g\n    provider: googleai\n    api_key: k\n"), 0o600))
	t.Setenv("GEMINI_API_KEY", "env-key")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "k", cfg.Sources[0].APIKey)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Scan.Concurrency = 0
	cfg.LLM.OpenAIMode = "batch"
	cfg.Sources = []SourceConfig{
		{ID: "a", Provider: "gemini"},
		{ID: "a", Provider: "llama"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "scan.concurrency")
	assert.Contains(t, msg, "openai_mode")
	assert.Contains(t, msg, "duplicate source id a")
	assert.Contains(t, msg, "sources[1].provider")
	assert.Equal(t, CodeConfig, CodeOf(err))
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("scan.item.ok")
	logger.Warn("scan.item.retry", "attempt", 2)
	out := strings.TrimSpace(buf.String())
	assert.NotContains(t, out, "scan.item.ok")
	assert.Contains(t, out, `"msg":"scan.item.retry"`)
	assert.Contains(t, out, `"attempt":2`)

	buf.Reset()
	NewLogger(LoggingConfig{Level: "loud", Format: "fancy"}, &buf).Info("hello")
	assert.Contains(t, buf.String(), "level=INFO msg=hello")
}
