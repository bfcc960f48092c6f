// Package app assembles the scanner's collaborators from configuration.
// Both binaries build on it so they share one wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/export"
	"github.com/joseph-ayodele/homework-scanner/internal/ingest"
	"github.com/joseph-ayodele/homework-scanner/internal/llm/provider"
	"github.com/joseph-ayodele/homework-scanner/internal/repository"
	"github.com/joseph-ayodele/homework-scanner/internal/retry"
	"github.com/joseph-ayodele/homework-scanner/internal/scan"
	"github.com/joseph-ayodele/homework-scanner/internal/sources"
	"github.com/joseph-ayodele/homework-scanner/internal/store"
)

type App struct {
	Config   *common.Config
	Store    *store.Memory
	Previews *store.FilePreviews
	Sources  *sources.Registry
	Clients  provider.Factory
	Scanner  *scan.Scanner
	Ingestor *ingest.FSIngestor
	Export   *export.Service

	// DB, History and Recorder are nil when no database is configured.
	DB       *repository.DB
	History  repository.SolutionRepository
	Recorder *repository.Recorder

	logger *slog.Logger
}

// Option adjusts the assembly.
type Option func(*options)

type options struct {
	notifiers []scan.Notifier
	source    constants.ItemSource
	clients   provider.Factory
}

// WithNotifiers adds run notification sinks next to the log and history ones.
func WithNotifiers(ns ...scan.Notifier) Option {
	return func(o *options) { o.notifiers = append(o.notifiers, ns...) }
}

// WithItemSource tags items added through the ingestor.
func WithItemSource(s constants.ItemSource) Option {
	return func(o *options) { o.source = s }
}

// WithClients replaces the provider-backed client factory.
func WithClients(f provider.Factory) Option {
	return func(o *options) { o.clients = f }
}

// New opens storage and builds every component. The caller owns Close.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{source: constants.SourceUpload}
	for _, opt := range opts {
		opt(&o)
	}

	srcs, err := sources.FromConfig(cfg.Sources)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "sources", err)
	}
	active := cfg.ActiveSource
	if active == "" && len(srcs) > 0 {
		active = srcs[0].ID
	}

	previews, err := store.NewFilePreviews(cfg.Scan.PreviewDir)
	if err != nil {
		return nil, fmt.Errorf("preview dir: %w", err)
	}

	a := &App{
		Config:   cfg,
		Previews: previews,
		Store:    store.NewMemory(previews, logger.With("component", "store")),
		Sources:  sources.NewRegistry(srcs, active),
		logger:   logger,
	}

	a.Clients = o.clients
	if a.Clients == nil {
		a.Clients = provider.NewFactory(provider.OptionsFromConfig(cfg.LLM, cfg.Server.MaxUploadMB), logger.With("component", "llm"))
	}

	if cfg.Database.DSN != "" {
		db, err := repository.Open(ctx, repository.ConfigFrom(cfg.Database), logger)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.History = repository.NewSolutionRepository(db, logger)
		a.Recorder = repository.NewRecorder(a.History, a.Store, logger.With("component", "history"))
	} else {
		logger.Info("app.history_disabled", "reason", "no database dsn")
	}

	notifiers := scan.Notifiers{scan.LogNotifier{Logger: logger}}
	if a.Recorder != nil {
		notifiers = append(notifiers, a.Recorder)
	}
	notifiers = append(notifiers, o.notifiers...)

	a.Scanner = scan.New(a.Store, a.Sources, a.Clients,
		scan.WithConcurrency(cfg.Scan.Concurrency),
		scan.WithRetryPolicy(retry.Policy{
			MaxAttempts:  cfg.Scan.MaxAttempts,
			InitialDelay: cfg.Scan.InitialDelay,
			MaxDelay:     cfg.Scan.MaxDelay,
		}),
		scan.WithShuffler(sources.NewShuffler(cfg.Scan.Seed)),
		scan.WithNotifier(notifiers),
		scan.WithLogger(logger.With("component", "scan")),
	)
	a.Ingestor = ingest.NewFSIngestor(a.Store,
		ingest.WithSource(o.source),
		ingest.WithMaxMB(cfg.Ingest.MaxFileMB),
		ingest.WithLogger(logger.With("component", "ingest")),
	)
	a.Export = export.NewService(a.Store, a.History, logger.With("component", "export"))

	logger.Info("app.ready",
		"sources", len(srcs),
		"active_source", active,
		"concurrency", cfg.Scan.Concurrency,
		"history", a.History != nil,
	)
	return a, nil
}

// StartHistory runs the recorder until ctx is done. It is a no-op without a database.
func (a *App) StartHistory(ctx context.Context) {
	if a.Recorder == nil {
		return
	}
	a.Recorder.Run(ctx)
}

// HealthCheck probes the database, if any.
func (a *App) HealthCheck(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return a.DB.HealthCheck(ctx, 3*time.Second)
}

// Close releases the database and every preview file.
func (a *App) Close() {
	if err := a.Store.ClearAll(); err != nil {
		a.logger.Warn("app.previews_release_failed", "error", err)
	}
	if a.DB != nil {
		a.DB.Close(a.logger)
	}
}
