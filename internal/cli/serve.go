package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ppiankov/sentinel/internal/app"
	"github.com/ppiankov/sentinel/internal/pipeline"
	"github.com/spf13/cobra"
)

var runTimeout time.Duration

// serveCmd runs the scheduler and admin API until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline scheduler and admin API",
	Long: `Serve seeds configured sources, schedules an ingestion job per enabled
source plus the scoring sweep and source sync jobs, and serves the admin API.
SIGINT or SIGTERM drains running jobs within scheduler.shutdown_grace.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		return a.Run(ctx)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <source-id>",
	Short: "Run one ingestion pass for a source",
	Long: `Ingest fetches new items for one source, then normalizes, deduplicates,
scores and persists them exactly as the scheduled job would.

Example:
  sentinel ingest hn --timeout 5m`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd, func(ctx context.Context, a *app.App) (pipeline.Stats, error) {
			return a.Orchestrator.IngestSource(ctx, args[0])
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-drive records left pending or unscored",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd, func(ctx context.Context, a *app.App) (pipeline.Stats, error) {
			return a.Orchestrator.Sweep(ctx)
		})
	},
}

func runOnce(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) (pipeline.Stats, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	stats, err := fn(ctx, a)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(stats); encErr != nil {
		return fmt.Errorf("write stats: %w", encErr)
	}
	return err
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(sweepCmd)

	for _, c := range []*cobra.Command{ingestCmd, sweepCmd} {
		c.Flags().DurationVar(&runTimeout, "timeout", 10*time.Minute, "overall run timeout")
	}
}
