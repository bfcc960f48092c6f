package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/app"
	"github.com/joseph-ayodele/homework-scanner/internal/async"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/ingest"
	"github.com/joseph-ayodele/homework-scanner/internal/llm/provider"
	"github.com/joseph-ayodele/homework-scanner/internal/scan"
	"github.com/joseph-ayodele/homework-scanner/internal/sources"
)

// loadConfig reads the config file and builds the logger. Logs go to stderr so
// stdout stays readable for summaries.
func loadConfig() (*common.Config, *slog.Logger, error) {
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := common.NewLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// startHistory runs the recorder in the background. The returned func stops it
// and waits, so deferred Close calls never race a pending write.
func startHistory(ctx context.Context, a *app.App) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.StartHistory(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func newRunCmd() *cobra.Command {
	var (
		dir        string
		out        string
		source     string
		keepHidden bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest a directory, scan every file and export the solutions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if source != "" {
				cfg.ActiveSource = source
			}
			if out == "" {
				out = filepath.Join(filepath.Dir(filepath.Clean(dir)), "solutions.xlsx")
			}

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			defer startHistory(ctx, a)()

			results, stats, err := a.Ingestor.IngestDirectory(ctx, dir, !keepHidden)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Err != "" {
					logger.Warn("batch.ingest_failed", "path", r.SourcePath, "error", r.Err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d of %d files (%d duplicates, %d failed)\n",
				stats.Succeeded, stats.Matched, stats.Deduplicated, stats.Failed)

			sum, err := a.Scanner.Run(ctx)
			switch {
			case errors.Is(err, scan.ErrNothingToDo):
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to scan")
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d items: %d succeeded, %d failed, %d skipped in %s\n",
				sum.Items, sum.Succeeded, sum.Failed, sum.Skipped, sum.Elapsed.Round(time.Millisecond))

			buf, err := a.Export.SolutionsXLSX(ctx)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, buf, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory of images and PDFs to scan (required)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "XLSX output path (default: solutions.xlsx next to --dir)")
	cmd.Flags().StringVar(&source, "source", "", "id of the source to try first")
	cmd.Flags().BoolVar(&keepHidden, "include-hidden", false, "also ingest hidden files and directories")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var dirs []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch directories and scan new files as they appear",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if len(dirs) > 0 {
				cfg.Ingest.WatchDirs = dirs
			}
			if len(cfg.Ingest.WatchDirs) == 0 {
				return errors.New("no directories to watch: pass --dir or set ingest.watch_dirs")
			}

			a, err := app.New(ctx, cfg, logger, app.WithItemSource(constants.SourceWatch))
			if err != nil {
				return err
			}
			defer a.Close()
			defer startHistory(ctx, a)()

			queue := async.NewRunQueue(a.Scanner, logger, async.WithResultFunc(func(job async.Job, sum scan.Summary, err error) {
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d succeeded, %d failed\n", job.Reason, sum.Succeeded, sum.Failed)
				}
			}))
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				queue.Shutdown(shutdownCtx)
			}()

			err = ingest.Watch(ctx, ingest.WatchConfig{
				Roots:       cfg.Ingest.WatchDirs,
				InitialScan: cfg.Ingest.InitialScan,
				Debounce:    cfg.Ingest.Debounce,
				SkipHidden:  true,
			}, a.Ingestor, queue, logger)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringSliceVarP(&dirs, "dir", "d", nil, "directory to watch (repeatable)")
	return cmd
}

func newModelsCmd() *cobra.Command {
	var sourceID string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models a configured source offers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			srcs, err := sources.FromConfig(cfg.Sources)
			if err != nil {
				return err
			}
			reg := sources.NewRegistry(srcs, cfg.ActiveSource)
			src, ok := reg.Get(sourceID)
			if !ok {
				src, ok = reg.Active()
			}
			if !ok {
				return fmt.Errorf("source %q not found", sourceID)
			}

			clients := provider.NewFactory(provider.OptionsFromConfig(cfg.LLM, cfg.Server.MaxUploadMB), logger)
			client, err := clients(ctx, src)
			if err != nil {
				return err
			}
			models, err := client.ListModels(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODEL\tDISPLAY NAME")
			for _, m := range models {
				fmt.Fprintf(tw, "%s\t%s\n", m.Name, m.DisplayName)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&sourceID, "source", "s", "", "source id (default: the active source)")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		runID string
		out   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs or export recorded solutions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return errors.New("history needs database.dsn or DB_URL")
			}
			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if out == "" {
				runs, err := a.History.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN\tSTARTED\tITEMS\tOK\tFAILED")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", r.ID, r.StartedAt.Format(time.RFC3339), r.Items, r.Succeeded, r.Failed)
				}
				return tw.Flush()
			}

			var id *uuid.UUID
			if runID != "" {
				parsed, err := common.ParseUUID("run", runID)
				if err != nil {
					return err
				}
				id = &parsed
			}
			buf, err := a.Export.HistoryXLSX(ctx, id, limit)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, buf, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only export solutions of this run")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write an XLSX export instead of listing runs")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	return cmd
}
