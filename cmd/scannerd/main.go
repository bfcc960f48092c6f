package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/app"
	"github.com/joseph-ayodele/homework-scanner/internal/async"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/ingest"
	"github.com/joseph-ayodele/homework-scanner/internal/scan"
	"github.com/joseph-ayodele/homework-scanner/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("SCANNER_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger := common.NewLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("scannerd stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := server.NewHub(cfg.Server.AllowedOrigins, logger.With("component", "ws"))

	a, err := app.New(ctx, cfg, logger, app.WithNotifiers(hub))
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.HealthCheck(ctx); err != nil {
		return common.WrapError(err, "database health")
	}

	queue := async.NewRunQueue(a.Scanner, logger.With("component", "queue"),
		async.WithRunTimeout(30*time.Minute),
		async.WithResultFunc(func(job async.Job, sum scan.Summary, err error) {
			if err != nil && !errors.Is(err, scan.ErrNothingToDo) {
				hub.Publish("queue.failed", map[string]string{"reason": job.Reason, "error": err.Error()})
			}
		}),
	)

	var wg sync.WaitGroup
	goFn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	goFn(func() { hub.Run(ctx) })
	events, unsubscribe := a.Store.Subscribe(1024)
	goFn(func() { hub.Forward(ctx, events) })
	goFn(func() { a.StartHistory(ctx) })

	if len(cfg.Ingest.WatchDirs) > 0 {
		watchIngestor := ingest.NewFSIngestor(a.Store,
			ingest.WithSource(constants.SourceWatch),
			ingest.WithMaxMB(cfg.Ingest.MaxFileMB),
			ingest.WithLogger(logger.With("component", "watch")),
		)
		goFn(func() {
			err := ingest.Watch(ctx, ingest.WatchConfig{
				Roots:       cfg.Ingest.WatchDirs,
				InitialScan: cfg.Ingest.InitialScan,
				Debounce:    cfg.Ingest.Debounce,
				SkipHidden:  true,
			}, watchIngestor, queue, logger)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("watcher stopped", "error", err)
			}
		})
	}

	grpcSrv := server.NewGRPCServer(logger.With("component", "grpc"))
	goFn(func() { grpcSrv.Monitor(ctx, 15*time.Second, a.HealthCheck) })
	grpcErr := make(chan error, 1)
	goFn(func() { grpcErr <- grpcSrv.Serve(ctx, cfg.Server.GRPCAddr) })

	srv := server.New(server.Deps{
		Store:    a.Store,
		Sources:  a.Sources,
		Scanner:  a.Scanner,
		Ingestor: a.Ingestor,
		Runs:     queue,
		Export:   a.Export,
		History:  a.History,
		Clients:  a.Clients,
		Previews: a.Previews,
		Hub:      hub,
	}, cfg.Server, logger.With("component", "http"))

	httpErr := server.ListenAndServe(ctx, cfg.Server.HTTPAddr, srv.Handler(), logger)
	// A listener failure returns before ctx is done; stop the rest either way.
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	queue.Shutdown(shutdownCtx)
	unsubscribe()
	wg.Wait()
	hub.Wait()

	return errors.Join(httpErr, <-grpcErr)
}
