package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/normalize"
	"github.com/ppiankov/sentinel/internal/store"
	"github.com/spf13/cobra"
)

var (
	feedType     string
	feedMinScore int
	feedSince    time.Duration
	feedLimit    int
	feedJSON     bool
)

// feedCmd prints served records: unique and scored, nothing else
var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Print the curated feed",
	Long: `Feed prints unique, scored records, newest first. Duplicates, discarded,
pending, unscored and exhausted records never appear.

Example:
  sentinel feed --min-score 7 --since 24h
  sentinel feed --type reddit --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := store.FeedQuery{MinScore: feedMinScore, Limit: feedLimit}
		if feedType != "" {
			t, err := model.ParseSourceType(feedType)
			if err != nil {
				return err
			}
			q.SourceType = t
		}
		if feedSince > 0 {
			q.Since = time.Now().Add(-feedSince)
		}

		return withStore(func(ctx context.Context, st store.Store) error {
			records, err := st.Feed(ctx, q)
			if err != nil {
				return err
			}

			if feedJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tFIRST SEEN\tSOURCES\tTITLE\tURL")
			for _, r := range records {
				title := r.Title
				if title == "" {
					title = r.Text
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n",
					r.ScoreValue, r.FirstSeen.Format(time.RFC3339), len(r.Attribution), normalize.Truncate(title, 80), r.URL)
			}
			return tw.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(feedCmd)

	feedCmd.Flags().StringVar(&feedType, "type", "", "only this source type (telegram, reddit, rss)")
	feedCmd.Flags().IntVar(&feedMinScore, "min-score", 0, "minimum credibility score (1-10)")
	feedCmd.Flags().DurationVar(&feedSince, "since", 0, "only records first seen within this window")
	feedCmd.Flags().IntVar(&feedLimit, "limit", 50, "maximum records")
	feedCmd.Flags().BoolVar(&feedJSON, "json", false, "print JSON instead of a table")
}
