package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/warren/internal/adminclient"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/report"
	"github.com/dyluth/warren/internal/resolver"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	insightsOutput      string
	insightsStatus      string
	insightsCluster     string
	insightsUnbridged   bool
	insightsMinSeverity string
	insightsMinAuthors  int
	insightsSince       string
	markTaskID          string
	cooldownFor         time.Duration
	cooldownReason      string
	bridgeAssignee      string
)

var insightsCmd = &cobra.Command{
	Use:   "insights [INSIGHT_ID]",
	Short: "Inspect clustered insights",
	Long: `Inspect insights in list or get mode.

List Mode (no INSIGHT_ID):
  Displays insights matching filters as a table or JSONL stream.

Get Mode (with INSIGHT_ID):
  Displays one insight in full. Supports short IDs (e.g., "3f2b9c").

Examples:
  # Promoted insights still waiting for a task
  warren insights --status promoted --unbridged

  # Everything on one cluster, as JSONL for jq
  warren insights --cluster ops::noise::sweeper --output jsonl | jq .score

  # One insight in full
  warren insights 3f2b9c`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInsights,
}

var markCmd = &cobra.Command{
	Use:   "mark INSIGHT_ID STATUS",
	Short: "Move an insight to another lifecycle status",
	Long: `Move an insight to candidate, promoted, pending_triage or task_created.

task_created requires --task with the ID of the task that covers the insight.`,
	Args: cobra.ExactArgs(2),
	RunE: runMark,
}

var cooldownCmd = &cobra.Command{
	Use:   "cooldown INSIGHT_ID",
	Short: "Hold an insight back from promotion",
	Long: `Block promotion of an insight for a duration. --for 0 clears the cooldown.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCooldown,
}

var bridgeCmd = &cobra.Command{
	Use:   "bridge INSIGHT_ID",
	Short: "Bridge one insight into a task now",
	Args:  cobra.ExactArgs(1),
	RunE:  runBridge,
}

func init() {
	insightsCmd.Flags().StringVarP(&insightsOutput, "output", "o", "default", "Output format: default or jsonl")
	insightsCmd.Flags().StringVar(&insightsStatus, "status", "", "Comma-separated statuses to include")
	insightsCmd.Flags().StringVar(&insightsCluster, "cluster", "", "Exact cluster key (stage::family::unit)")
	insightsCmd.Flags().BoolVar(&insightsUnbridged, "unbridged", false, "Only insights without a linked task")
	insightsCmd.Flags().StringVar(&insightsMinSeverity, "min-severity", "", "Minimum severity: low, medium, high or critical")
	insightsCmd.Flags().IntVar(&insightsMinAuthors, "min-authors", 0, "Minimum independent authors")
	insightsCmd.Flags().StringVar(&insightsSince, "since", "", "Updated after time (duration or RFC3339)")

	markCmd.Flags().StringVar(&markTaskID, "task", "", "Task ID, required for task_created")

	cooldownCmd.Flags().DurationVar(&cooldownFor, "for", time.Hour, "Cooldown duration")
	cooldownCmd.Flags().StringVar(&cooldownReason, "reason", "", "Why the insight is held back")

	bridgeCmd.Flags().StringVar(&bridgeAssignee, "assignee", "", "Assign the task to this agent regardless of routing")

	rootCmd.AddCommand(insightsCmd, markCmd, cooldownCmd, bridgeCmd)
}

func runInsights(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)
	format, err := report.ParseOutputFormat(insightsOutput)
	if err != nil {
		return p.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
	}

	client := newClient()
	if len(args) == 1 {
		ins, err := resolveAndGet(cmd, p, client, args[0])
		if err != nil {
			return err
		}
		if format == report.OutputFormatJSONL {
			return report.SingleJSON(p.Out(), ins)
		}
		report.InsightDetail(p.Out(), ins)
		return nil
	}

	q := adminclient.InsightQuery{
		Cluster:        insightsCluster,
		Unbridged:      insightsUnbridged,
		MinSeverity:    insightsMinSeverity,
		MinIndependent: insightsMinAuthors,
		Since:          insightsSince,
	}
	for _, s := range strings.Split(insightsStatus, ",") {
		if s = strings.TrimSpace(s); s != "" {
			q.Statuses = append(q.Statuses, s)
		}
	}

	list, err := client.ListInsights(cmd.Context(), q)
	if err != nil {
		return apiFailure(p, "list insights", err)
	}
	if format == report.OutputFormatJSONL {
		return report.JSONL(p.Out(), list)
	}
	report.InsightTable(p.Out(), list)
	return nil
}

func runMark(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)
	client := newClient()
	id, err := resolveID(cmd, p, client, args[0])
	if err != nil {
		return err
	}

	status := blackboard.InsightStatus(args[1])
	if err := status.Validate(); err != nil {
		return p.Error("invalid status", err.Error(), []string{"Valid statuses: candidate, promoted, pending_triage, task_created"})
	}

	ins, err := client.UpdateInsightStatus(cmd.Context(), id, status, markTaskID)
	if err != nil {
		return apiFailure(p, "update insight", err)
	}
	p.Success("insight %s is now %s\n", ins.ID, printer.Status(ins.Status))
	return nil
}

func runCooldown(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)
	client := newClient()
	id, err := resolveID(cmd, p, client, args[0])
	if err != nil {
		return err
	}

	ins, err := client.SetCooldown(cmd.Context(), id, cooldownFor, cooldownReason)
	if err != nil {
		return apiFailure(p, "set cooldown", err)
	}
	if ins.CooldownUntilMs == 0 {
		p.Success("cooldown cleared for %s\n", ins.ID)
		return nil
	}
	p.Success("insight %s held until %s\n", ins.ID, time.UnixMilli(ins.CooldownUntilMs).UTC().Format(time.RFC3339))
	return nil
}

func runBridge(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)
	client := newClient()
	id, err := resolveID(cmd, p, client, args[0])
	if err != nil {
		return err
	}

	res, err := client.BridgeInsight(cmd.Context(), id, bridgeAssignee)
	if err != nil {
		return apiFailure(p, "bridge insight", err)
	}
	switch {
	case res.TaskID != "":
		p.Success("%s: insight %s → %s (%s lane)\n", res.Outcome, res.InsightID, res.TaskID, dashIfEmpty(res.Lane))
	default:
		p.Info("%s: insight %s\n", res.Outcome, res.InsightID)
	}
	return nil
}

func resolveID(cmd *cobra.Command, p *printer.Printer, client *adminclient.Client, shortID string) (string, error) {
	id, err := resolver.ResolveInsightID(cmd.Context(), client, shortID)
	if err == nil {
		return id, nil
	}

	var ambiguous *resolver.AmbiguousError
	switch {
	case resolver.IsNotFoundError(err):
		return "", p.Error(
			fmt.Sprintf("insight with ID '%s' not found", shortID),
			"No insight has an ID starting with that prefix.",
			[]string{"List all insights:\n  warren insights"},
		)
	case errors.As(err, &ambiguous):
		return "", p.Error(
			fmt.Sprintf("ambiguous short ID '%s'", shortID),
			"Matching insights:\n"+ambiguous.Describe(),
			[]string{"Use a longer prefix or the full ID."},
		)
	case errors.Is(err, resolver.ErrShortIDTooShort):
		return "", p.Error("short ID too short", err.Error(), nil)
	default:
		return "", apiFailure(p, "look up insight", err)
	}
}

func resolveAndGet(cmd *cobra.Command, p *printer.Printer, client *adminclient.Client, shortID string) (*blackboard.Insight, error) {
	id, err := resolveID(cmd, p, client, shortID)
	if err != nil {
		return nil, err
	}
	ins, err := client.GetInsight(cmd.Context(), id)
	if err != nil {
		return nil, apiFailure(p, "fetch insight", err)
	}
	return ins, nil
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
