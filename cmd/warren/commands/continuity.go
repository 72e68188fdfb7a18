package commands

import (
	"strings"
	"time"

	"github.com/dyluth/warren/internal/report"
	"github.com/spf13/cobra"
)

var (
	pauseFor    time.Duration
	pauseReason string
)

var catchupCmd = &cobra.Command{
	Use:   "catchup",
	Short: "Bridge every promoted insight that has no task",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		res, err := newClient().RunCatchUpScan(cmd.Context())
		if err != nil {
			return apiFailure(p, "run the catch-up scan", err)
		}
		report.CatchUpSummary(p.Out(), res)
		if res.Failed > 0 {
			return p.Error("catch-up scan incomplete", "Some insights could not be bridged; rerun once the cause is fixed.", nil)
		}
		return nil
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one continuity cycle now, even while paused",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		res, err := newClient().Tick(cmd.Context())
		if err != nil {
			return apiFailure(p, "run a continuity tick", err)
		}
		p.Success("checked %d agents, replenished %d\n", res.AgentsChecked, res.Replenished)
		if len(res.Starved) > 0 {
			p.Warning("starved: %s\n", strings.Join(res.Starved, ", "))
		}
		report.ActionLog(p.Out(), res.Actions)
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Suspend scheduled continuity ticks",
	Example: `  # Freeze remediation during a deploy
  warren pause --for 30m --reason "deploy window"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		if pauseFor <= 0 {
			return p.Error("invalid pause duration", "--for must be positive.", []string{"Resume instead:\n  warren resume"})
		}
		resp, err := newClient().Pause(cmd.Context(), pauseFor, pauseReason)
		if err != nil {
			return apiFailure(p, "pause the continuity loop", err)
		}
		p.Success("continuity paused until %s\n", time.UnixMilli(resp.UntilMs).UTC().Format(time.RFC3339))
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Clear a continuity pause",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		if err := newClient().Resume(cmd.Context()); err != nil {
			return apiFailure(p, "resume the continuity loop", err)
		}
		p.Success("continuity resumed\n")
		return nil
	},
}

var continuityCmd = &cobra.Command{
	Use:   "continuity",
	Short: "Show continuity loop counters and pause state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		client := newClient()
		stats, err := client.ContinuityStats(cmd.Context())
		if err != nil {
			return apiFailure(p, "fetch continuity stats", err)
		}
		pause, err := client.PauseStatus(cmd.Context())
		if err != nil {
			return apiFailure(p, "fetch pause state", err)
		}

		p.Info("Cycles run:          %d\n", stats.CyclesRun)
		p.Info("Insights promoted:   %d\n", stats.InsightsPromoted)
		p.Info("Tasks replenished:   %d\n", stats.TasksReplenished)
		p.Info("Starved detections:  %d\n", stats.StarvedDetections)
		p.Info("Skipped while paused: %d\n", stats.SkippedPaused)
		if stats.LastTickMs > 0 {
			p.Info("Last tick:           %s\n", time.UnixMilli(stats.LastTickMs).UTC().Format(time.RFC3339))
		}
		if pause.Paused {
			p.Warning("paused until %s (%s)\n", time.UnixMilli(pause.UntilMs).UTC().Format(time.RFC3339), dashIfEmpty(pause.Reason))
		}
		return nil
	},
}

var continuityLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent continuity actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		actions, err := newClient().ContinuityLog(cmd.Context())
		if err != nil {
			return apiFailure(p, "fetch the continuity log", err)
		}
		report.ActionLog(p.Out(), actions)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check orchestrator health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		health, err := newClient().Health(cmd.Context())
		if err != nil {
			return apiFailure(p, "check orchestrator health", err)
		}
		p.Success("orchestrator %s (redis %s, bridge %s, continuity %s)\n",
			health.Status, dashIfEmpty(health.Redis), dashIfEmpty(health.Bridge), dashIfEmpty(health.Continuity))
		return nil
	},
}

func init() {
	pauseCmd.Flags().DurationVar(&pauseFor, "for", time.Hour, "Pause duration")
	pauseCmd.Flags().StringVar(&pauseReason, "reason", "", "Why the loop is paused")

	continuityCmd.AddCommand(continuityLogCmd)
	rootCmd.AddCommand(catchupCmd, tickCmd, pauseCmd, resumeCmd, continuityCmd, statusCmd)
}
