package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/llm"
	"github.com/joseph-ayodele/homework-scanner/internal/llm/provider"
	"github.com/joseph-ayodele/homework-scanner/internal/repository"
	"github.com/joseph-ayodele/homework-scanner/internal/response"
	"github.com/joseph-ayodele/homework-scanner/internal/sources"
)

// newSolveCmd sends one file to one source a number of times and prints every
// parsed reply. It is a prompt and model probe; nothing is stored.
func newSolveCmd() *cobra.Command {
	var (
		sourceID string
		times    int
	)
	cmd := &cobra.Command{
		Use:   "solve FILE",
		Short: "Send a single file to a source and print the parsed problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			if !ok || !src.Eligible() {
				return fmt.Errorf("no enabled source %q with an API key", sourceID)
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			mime := constants.MimeForExt(filepath.Ext(args[0]))
			if constants.IsPDF(mime) && !src.SupportsPDF() {
				return fmt.Errorf("%s does not accept PDFs", src.Provider)
			}

			clients := provider.NewFactory(provider.OptionsFromConfig(cfg.LLM, cfg.Server.MaxUploadMB), logger)
			parser := response.NewParser(logger)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			var errs []error
			for i := range times {
				client, err := clients(ctx, src)
				if err != nil {
					return err
				}
				client.SetSystemPrompt(llm.BuildSystemPrompt(llm.SolveSystemPrompt, src.Traits))
				start := time.Now()
				text, err := client.SendMedia(ctx, data, mime, llm.SolveUserPrompt, src.Model, nil)
				elapsed := time.Since(start).Round(time.Millisecond)
				if err != nil {
					logger.Warn("batch.solve.failed", "attempt", i+1, "elapsed", elapsed, "error", err)
					errs = append(errs, err)
					continue
				}
				parsed, ok := parser.Solve(text)
				if !ok {
					logger.Warn("batch.solve.unparseable", "attempt", i+1, "elapsed", elapsed)
					errs = append(errs, fmt.Errorf("attempt %d: unparseable reply", i+1))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "# attempt %d (%s, %s)\n", i+1, src.ID, elapsed)
				if err := enc.Encode(parsed.Problems); err != nil {
					return err
				}
			}
			if len(errs) == times {
				return errors.Join(errs...)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sourceID, "source", "s", "", "source id (default: the active source)")
	cmd.Flags().IntVarP(&times, "times", "n", 1, "number of requests to send")
	return cmd
}

// newDBHealthCmd opens the history database, pings it and reports the run count.
func newDBHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dbhealth",
		Short: "Check the history database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := repository.Open(ctx, repository.ConfigFrom(cfg.Database), logger)
			if err != nil {
				return err
			}
			defer db.Close(logger)

			if err := db.HealthCheck(ctx, time.Second); err != nil {
				return fmt.Errorf("DB health: FAIL (%w)", err)
			}
			runs, err := repository.NewSolutionRepository(db, logger).ListRuns(ctx, 500)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "DB health: OK (%s, %d recent runs)\n", db.Dialect, len(runs))
			return nil
		},
	}
}
