package commands

import (
	"sort"

	"github.com/spf13/cobra"
)

var suppressionCmd = &cobra.Command{
	Use:   "suppression",
	Short: "Inspect the notification suppression ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var suppressionStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show suppression counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		stats, err := newClient().SuppressionStats(cmd.Context())
		if err != nil {
			return apiFailure(p, "fetch suppression stats", err)
		}

		p.Info("Entries:     %d\n", stats.Entries)
		p.Info("Total hits:  %d\n", stats.TotalHits)
		p.Info("Suppressed:  %d\n", stats.Suppressed)
		if len(stats.ByCategory) > 0 {
			categories := make([]string, 0, len(stats.ByCategory))
			for c := range stats.ByCategory {
				categories = append(categories, c)
			}
			sort.Strings(categories)

			p.Info("\nBy category:\n")
			for _, c := range categories {
				p.Info("  %-24s %d\n", c, stats.ByCategory[c])
			}
		}
		return nil
	},
}

var suppressionPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop suppression entries older than the window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		removed, err := newClient().PruneSuppression(cmd.Context())
		if err != nil {
			return apiFailure(p, "prune the suppression ledger", err)
		}
		p.Success("pruned %d expired entries\n", removed)
		return nil
	},
}

func init() {
	suppressionCmd.AddCommand(suppressionStatsCmd, suppressionPruneCmd)
	rootCmd.AddCommand(suppressionCmd)
}
