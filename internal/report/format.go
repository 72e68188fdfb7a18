// Package report renders orchestrator state for the warren CLI.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/warren/internal/bridge"
	"github.com/dyluth/warren/internal/continuity"
	"github.com/dyluth/warren/pkg/blackboard"
)

// OutputFormat selects how lists are rendered.
type OutputFormat string

const (
	// OutputFormatDefault is a fixed-width table
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL writes one complete object per line
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates a --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, "":
		return OutputFormatDefault, nil
	case OutputFormatJSONL:
		return OutputFormatJSONL, nil
	}
	return "", fmt.Errorf("unknown output format: %s", s)
}

var now = time.Now

// InsightTable writes insights newest-updated first and returns the count.
func InsightTable(w io.Writer, insights []*blackboard.Insight) int {
	if len(insights) == 0 {
		fmt.Fprintln(w, "No insights found")
		return 0
	}

	sorted := append([]*blackboard.Insight(nil), insights...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAtMs > sorted[j].UpdatedAtMs
	})

	const row = "%-8s %-14s %-3s %-8s %-5s %-4s %-28s %-8s %s\n"
	fmt.Fprintf(w, row, "ID", "STATUS", "PRI", "SEVERITY", "SCORE", "AUTH", "CLUSTER", "AGE", "TITLE")
	fmt.Fprintf(w, row, "--------", "--------------", "---", "--------", "-----", "----", strings.Repeat("-", 28), "--------", strings.Repeat("-", 40))
	for _, ins := range sorted {
		fmt.Fprintf(w, row,
			shortID(ins.ID),
			ins.Status,
			dash(ins.Priority),
			dash(string(ins.SeverityMax)),
			fmt.Sprintf("%.1f", ins.Score),
			fmt.Sprint(ins.IndependentCount),
			truncate(ins.ClusterKey, 28),
			age(ins.UpdatedAtMs),
			truncate(firstLine(ins.Title), 40),
		)
	}

	fmt.Fprintf(w, "\n%d %s found\n", len(sorted), plural(len(sorted), "insight", "insights"))
	return len(sorted)
}

// InsightDetail writes one insight as key/value lines followed by its links.
func InsightDetail(w io.Writer, ins *blackboard.Insight) {
	fmt.Fprintf(w, "Insight %s\n\n", ins.ID)
	fmt.Fprintf(w, "  Title:       %s\n", ins.Title)
	fmt.Fprintf(w, "  Cluster:     %s\n", ins.ClusterKey)
	fmt.Fprintf(w, "  Status:      %s\n", ins.Status)
	fmt.Fprintf(w, "  Priority:    %s (score %.2f, severity %s)\n", dash(ins.Priority), ins.Score, dash(string(ins.SeverityMax)))
	fmt.Fprintf(w, "  Authors:     %d independent (%s)\n", ins.IndependentCount, strings.Join(ins.Authors, ", "))
	fmt.Fprintf(w, "  Readiness:   %.0f%%\n", ins.PromotionReadiness*100)
	fmt.Fprintf(w, "  Reflections: %d\n", len(ins.ReflectionIDs))
	if ins.TaskID != "" {
		fmt.Fprintf(w, "  Task:        %s\n", ins.TaskID)
	}
	if ins.RecurringCandidate {
		fmt.Fprintf(w, "  Recurring:   yes\n")
	}
	if ins.CooldownUntilMs > now().UnixMilli() {
		fmt.Fprintf(w, "  Cooldown:    until %s (%s)\n", time.UnixMilli(ins.CooldownUntilMs).UTC().Format(time.RFC3339), dash(ins.CooldownReason))
	}
	if len(ins.EvidenceRefs) > 0 {
		fmt.Fprintf(w, "\n  Evidence:\n")
		for _, ref := range ins.EvidenceRefs {
			fmt.Fprintf(w, "    - %s\n", ref)
		}
	}
}

// AuditTable writes audit entries in the order given.
func AuditTable(w io.Writer, entries []blackboard.AuditEntry) int {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No audit entries found")
		return 0
	}

	const row = "%-20s %-8s %-16s %-18s %-10s %-10s %s\n"
	fmt.Fprintf(w, row, "TIME", "TASK", "ACTOR", "FIELD", "BEFORE", "AFTER", "CONTEXT")
	fmt.Fprintf(w, row, strings.Repeat("-", 20), "--------", strings.Repeat("-", 16), strings.Repeat("-", 18), "----------", "----------", strings.Repeat("-", 20))
	for _, e := range entries {
		fmt.Fprintf(w, row,
			timestamp(e.TimestampMs),
			shortID(e.TaskID),
			truncate(e.Actor, 16),
			truncate(e.Field, 18),
			truncate(dash(e.Before), 10),
			truncate(dash(e.After), 10),
			dash(e.Context),
		)
	}

	fmt.Fprintf(w, "\n%d %s\n", len(entries), plural(len(entries), "entry", "entries"))
	return len(entries)
}

// AlertTable writes mutation alerts in the order given.
func AlertTable(w io.Writer, alerts []blackboard.MutationAlert) int {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "No alerts raised")
		return 0
	}

	const row = "%-20s %-22s %-16s %-8s %s\n"
	fmt.Fprintf(w, row, "TIME", "TYPE", "ACTOR", "TASK", "DETAIL")
	fmt.Fprintf(w, row, strings.Repeat("-", 20), strings.Repeat("-", 22), strings.Repeat("-", 16), "--------", strings.Repeat("-", 30))
	for _, a := range alerts {
		fmt.Fprintf(w, row, timestamp(a.TimestampMs), a.Type, truncate(a.Actor, 16), shortID(a.TaskID), alertDetail(a))
	}
	return len(alerts)
}

func alertDetail(a blackboard.MutationAlert) string {
	var parts []string
	switch a.Type {
	case blackboard.AlertTypeUnauthorizedApproval:
		parts = append(parts, "expected reviewer "+dash(a.ExpectedReviewer))
	case blackboard.AlertTypeFlipAttempt:
		parts = append(parts, fmt.Sprintf("%s %s→%s (%d flips)", a.Field, a.FromValue, a.ToValue, a.Flips))
	}
	if a.Throttled {
		parts = append(parts, "throttled")
	}
	return strings.Join(parts, ", ")
}

// ActionLog writes continuity actions in the order given.
func ActionLog(w io.Writer, actions []continuity.Action) int {
	if len(actions) == 0 {
		fmt.Fprintln(w, "No continuity actions recorded")
		return 0
	}
	for _, a := range actions {
		target := a.TaskID
		if target == "" {
			target = a.InsightID
		}
		fmt.Fprintf(w, "%s  %-16s %-10s %-8s %s\n", timestamp(a.TimestampMs), truncate(a.Agent, 16), a.Type, shortID(dash(target)), a.Detail)
	}
	return len(actions)
}

// CatchUpSummary writes one line per outcome, in a fixed order.
func CatchUpSummary(w io.Writer, res *bridge.CatchUpResult) {
	fmt.Fprintf(w, "Scanned %d promoted %s\n", res.Scanned, plural(res.Scanned, "insight", "insights"))
	for _, o := range []bridge.Outcome{bridge.OutcomeCreated, bridge.OutcomeLinked, bridge.OutcomeTriaged, bridge.OutcomeDeferred, bridge.OutcomeSkipped} {
		if n := res.Outcomes[o]; n > 0 {
			fmt.Fprintf(w, "  %-9s %d\n", o, n)
		}
	}
	if res.Failed > 0 {
		fmt.Fprintf(w, "  %-9s %d\n", "failed", res.Failed)
		for _, e := range res.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}
}

// JSONL writes each item as compact JSON on its own line.
func JSONL[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// SingleJSON writes v as indented JSON followed by a newline.
func SingleJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return "-"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func timestamp(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}

// age renders a millisecond timestamp relative to now, e.g. "2m ago".
func age(ms int64) string {
	if ms == 0 {
		return "-"
	}
	diff := now().Sub(time.UnixMilli(ms))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
