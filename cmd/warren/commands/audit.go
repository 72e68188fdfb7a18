package commands

import (
	"github.com/dyluth/warren/internal/adminclient"
	"github.com/dyluth/warren/internal/report"
	"github.com/spf13/cobra"
)

var (
	auditTask   string
	auditActor  string
	auditField  string
	auditSince  string
	auditUntil  string
	auditLimit  int
	auditOutput string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the review audit trail",
	Long: `Query recorded changes to review fields, oldest first.

Time Filters:
  --since  - Entries after this time (duration like 2h, or RFC3339)
  --until  - Entries before this time

Examples:
  # What happened to one task
  warren audit --task task-3f2b9c1e

  # Approvals in the last day as JSONL
  warren audit --field reviewer_approved --since 24h --output jsonl`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		format, err := report.ParseOutputFormat(auditOutput)
		if err != nil {
			return p.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
		}

		entries, err := newClient().Audit(cmd.Context(), adminclient.AuditQuery{
			TaskID: auditTask,
			Actor:  auditActor,
			Field:  auditField,
			Since:  auditSince,
			Until:  auditUntil,
			Limit:  auditLimit,
		})
		if err != nil {
			return apiFailure(p, "query the audit trail", err)
		}
		if format == report.OutputFormatJSONL {
			return report.JSONL(p.Out(), entries)
		}
		report.AuditTable(p.Out(), entries)
		return nil
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List unauthorized-approval and flip alerts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		alerts, err := newClient().Alerts(cmd.Context())
		if err != nil {
			return apiFailure(p, "list alerts", err)
		}
		report.AlertTable(p.Out(), alerts)
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditTask, "task", "", "Only entries for this task ID")
	auditCmd.Flags().StringVar(&auditActor, "actor", "", "Only entries by this actor")
	auditCmd.Flags().StringVar(&auditField, "field", "", "Only entries for this field")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "Entries after time (duration or RFC3339)")
	auditCmd.Flags().StringVar(&auditUntil, "until", "", "Entries before time (duration or RFC3339)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 0, "Keep only the newest N entries")
	auditCmd.Flags().StringVarP(&auditOutput, "output", "o", "default", "Output format: default or jsonl")

	rootCmd.AddCommand(auditCmd, alertsCmd)
}
