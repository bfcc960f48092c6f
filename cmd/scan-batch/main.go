package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "scan-batch: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan-batch",
		Short: "Scan homework files from the command line",
		Long: `scan-batch runs the homework scanner without the HTTP server: it ingests a
directory of images and PDFs, solves every item with the configured AI sources
and writes the solutions to an XLSX workbook.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("SCANNER_CONFIG"), "YAML config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	cmd.AddCommand(
		newRunCmd(),
		newWatchCmd(),
		newModelsCmd(),
		newHistoryCmd(),
		newSolveCmd(),
		newDBHealthCmd(),
	)
	return cmd
}
