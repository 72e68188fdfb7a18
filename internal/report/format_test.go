package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/warren/internal/bridge"
	"github.com/dyluth/warren/internal/continuity"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func freezeTime(t *testing.T) {
	t.Helper()
	prev := now
	now = func() time.Time { return fixedNow }
	t.Cleanup(func() { now = prev })
}

func sampleInsights() []*blackboard.Insight {
	return []*blackboard.Insight{
		{
			ID:               "11111111-aaaa-5000-8000-000000000001",
			ClusterKey:       "ops::noise::sweeper",
			Title:            "sweeper crashes on retry",
			Status:           blackboard.InsightStatusPromoted,
			Score:            6.4,
			Priority:         "P1",
			IndependentCount: 2,
			SeverityMax:      blackboard.SeverityHigh,
			UpdatedAtMs:      fixedNow.Add(-5 * time.Minute).UnixMilli(),
		},
		{
			ID:               "22222222-bbbb-5000-8000-000000000002",
			ClusterKey:       "unknown::unknown::unknown",
			Title:            "",
			Status:           blackboard.InsightStatusCandidate,
			IndependentCount: 1,
			UpdatedAtMs:      fixedNow.Add(-3 * time.Hour).UnixMilli(),
		},
	}
}

func TestInsightTable(t *testing.T) {
	freezeTime(t)

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Zero(t, InsightTable(&buf, nil))
		assert.Equal(t, "No insights found\n", buf.String())
	})

	t.Run("rows newest first", func(t *testing.T) {
		var buf bytes.Buffer
		require.Equal(t, 2, InsightTable(&buf, sampleInsights()))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.GreaterOrEqual(t, len(lines), 4)
		assert.True(t, strings.HasPrefix(lines[0], "ID"))
		assert.Contains(t, lines[2], "11111111")
		assert.Contains(t, lines[2], "ops::noise::sweeper")
		assert.Contains(t, lines[2], "5m ago")
		assert.Contains(t, lines[3], "22222222")
		assert.Contains(t, lines[3], "3h ago")
		assert.Equal(t, "2 insights found", lines[len(lines)-1])
	})
}

func TestInsightDetail(t *testing.T) {
	freezeTime(t)

	ins := sampleInsights()[0]
	ins.TaskID = "task-1"
	ins.Authors = []string{"x", "y"}
	ins.EvidenceRefs = []string{"log://run/42"}
	ins.CooldownUntilMs = fixedNow.Add(time.Hour).UnixMilli()
	ins.CooldownReason = "flaky infra"

	var buf bytes.Buffer
	InsightDetail(&buf, ins)
	out := buf.String()

	assert.Contains(t, out, "Task:        task-1")
	assert.Contains(t, out, "2 independent (x, y)")
	assert.Contains(t, out, "until 2026-03-01T13:00:00Z (flaky infra)")
	assert.Contains(t, out, "- log://run/42")
	assert.NotContains(t, out, "Recurring")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "short", in: "sweeper", max: 10, want: "sweeper"},
		{name: "exact", in: strings.Repeat("a", 10), max: 10, want: strings.Repeat("a", 10)},
		{name: "long", in: strings.Repeat("a", 11), max: 10, want: strings.Repeat("a", 7) + "..."},
		{name: "multibyte", in: "ééééééééééé", max: 10, want: "ééééééé..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.max))
		})
	}
}

func TestAge(t *testing.T) {
	freezeTime(t)

	tests := []struct {
		offset time.Duration
		want   string
	}{
		{offset: 30 * time.Second, want: "30s ago"},
		{offset: 90 * time.Minute, want: "1h ago"},
		{offset: 50 * time.Hour, want: "2d ago"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, age(fixedNow.Add(-tt.offset).UnixMilli()))
		})
	}
	assert.Equal(t, "-", age(0))
}

func TestAuditAndAlertTables(t *testing.T) {
	ts := fixedNow.UnixMilli()

	var buf bytes.Buffer
	n := AuditTable(&buf, []blackboard.AuditEntry{
		{TimestampMs: ts, TaskID: "task-123456789", Actor: "rita", Field: "reviewer_approved", Before: "", After: "true"},
	})
	assert.Equal(t, 1, n)
	assert.Contains(t, buf.String(), "2026-03-01 12:00:00")
	assert.Contains(t, buf.String(), "task-123")
	assert.Contains(t, buf.String(), "1 entry")

	buf.Reset()
	AlertTable(&buf, []blackboard.MutationAlert{
		{Type: blackboard.AlertTypeUnauthorizedApproval, Actor: "mallory", TaskID: "t1", ExpectedReviewer: "rita", TimestampMs: ts},
		{Type: blackboard.AlertTypeFlipAttempt, Actor: "eve", TaskID: "t2", Field: "reviewer_approved", FromValue: "true", ToValue: "false", Flips: 3, Throttled: true, TimestampMs: ts},
	})
	assert.Contains(t, buf.String(), "expected reviewer rita")
	assert.Contains(t, buf.String(), "reviewer_approved true→false (3 flips), throttled")

	buf.Reset()
	AuditTable(&buf, nil)
	assert.Equal(t, "No audit entries found\n", buf.String())
}

func TestActionLogAndCatchUp(t *testing.T) {
	var buf bytes.Buffer
	ActionLog(&buf, []continuity.Action{
		{Agent: "docs", Type: "claimed", TaskID: "task-abcdef123", TimestampMs: fixedNow.UnixMilli()},
		{Agent: "ops", Type: "starved", Detail: "nothing to claim"},
	})
	out := buf.String()
	assert.Contains(t, out, "task-abc")
	assert.Contains(t, out, "nothing to claim")

	buf.Reset()
	CatchUpSummary(&buf, &bridge.CatchUpResult{
		Scanned:  3,
		Outcomes: map[bridge.Outcome]int{bridge.OutcomeCreated: 2, bridge.OutcomeTriaged: 1},
	})
	assert.Equal(t, "Scanned 3 promoted insights\n  created   2\n  triaged   1\n", buf.String())
}

func TestJSONOutputs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSONL(&buf, sampleInsights()))

	scanner := bufio.NewScanner(&buf)
	var ids []string
	for scanner.Scan() {
		var ins blackboard.Insight
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ins))
		ids = append(ids, ins.ID)
	}
	assert.Equal(t, []string{sampleInsights()[0].ID, sampleInsights()[1].ID}, ids)

	buf.Reset()
	require.NoError(t, SingleJSON(&buf, sampleInsights()[0]))
	assert.True(t, strings.HasSuffix(buf.String(), "}\n"))
	assert.Contains(t, buf.String(), "\n  \"id\": ")
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatDefault, f)

	f, err = ParseOutputFormat("jsonl")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSONL, f)

	_, err = ParseOutputFormat("yaml")
	assert.Error(t, err)
}
