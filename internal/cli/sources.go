package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/ppiankov/sentinel/internal/app"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/store"
	"github.com/spf13/cobra"
)

var (
	srcType     string
	srcAddress  string
	srcName     string
	srcInterval time.Duration
	srcDisabled bool
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage ingestion sources",
	Long: `Manage the source table directly. A running 'sentinel serve' picks up
changes on its next source sync; use the admin API for immediate effect.`,
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st store.Store) error {
			sources, err := st.ListSources(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tENABLED\tINTERVAL\tADDRESS\tCURSOR")
			for _, s := range sources {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\n", s.ID, s.Type, s.Enabled, s.Interval, s.Address, s.Cursor)
			}
			return tw.Flush()
		})
	},
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add a source",
	Long: `Add a source to the store.

Example:
  sentinel sources add hn --type rss --address https://news.ycombinator.com/rss --interval 15m
  sentinel sources add golang --type reddit --address golang
  sentinel sources add durov --type telegram --address durov`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := model.ParseSourceType(srcType)
		if err != nil {
			return err
		}
		src := model.SourceConfig{
			ID:       args[0],
			Type:     t,
			Address:  srcAddress,
			Name:     srcName,
			Enabled:  !srcDisabled,
			Interval: srcInterval,
		}
		if src.Name == "" {
			src.Name = src.ID
		}
		if err := src.Validate(); err != nil {
			return err
		}

		return withStore(func(ctx context.Context, st store.Store) error {
			_, err := st.GetSource(ctx, src.ID)
			if err == nil {
				return fmt.Errorf("source %s already exists", src.ID)
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if err := st.SaveSource(ctx, src); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Added source %s (%s)\n", src.ID, src.Type)
			return nil
		})
	},
}

var sourcesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st store.Store) error {
			src, err := st.GetSource(ctx, args[0])
			if err != nil {
				return fmt.Errorf("source %s: %w", args[0], err)
			}
			if !src.Enabled {
				fmt.Fprintf(cmd.OutOrStdout(), "Source %s is already disabled\n", src.ID)
				return nil
			}
			src.Enabled = false
			if err := st.SaveSource(ctx, src); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Disabled source %s\n", src.ID)
			return nil
		})
	},
}

// withStore opens only the store, for commands that do not run the pipeline
func withStore(fn func(ctx context.Context, st store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, st)
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesAddCmd)
	sourcesCmd.AddCommand(sourcesDisableCmd)

	sourcesAddCmd.Flags().StringVar(&srcType, "type", "rss", "source type (telegram, reddit, rss)")
	sourcesAddCmd.Flags().StringVar(&srcAddress, "address", "", "channel name, subreddit or feed URL")
	sourcesAddCmd.Flags().StringVar(&srcName, "name", "", "display name (default: id)")
	sourcesAddCmd.Flags().DurationVar(&srcInterval, "interval", 15*time.Minute, "polling interval")
	sourcesAddCmd.Flags().BoolVar(&srcDisabled, "disabled", false, "add the source disabled")
	_ = sourcesAddCmd.MarkFlagRequired("address")
}
