package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/warren/internal/audit"
	"github.com/dyluth/warren/internal/bridge"
	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/filter"
	"github.com/dyluth/warren/internal/logging"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.WarrenConfig {
	t.Helper()
	cfg := &config.WarrenConfig{
		Version: "1.0",
		Agents: map[string]config.Agent{
			"sweeper-owner": {Role: "ops", AffinityTags: []string{"sweeper", "noise"}, WipCap: 2},
			"docs":          {Role: "writer", AffinityTags: []string{"docs"}},
		},
		Audit:  &config.AuditConfig{LogPath: filepath.Join(t.TempDir(), "audit.jsonl")},
		Server: &config.ServerConfig{Addr: "127.0.0.1:0"},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func setupTestEngine(t *testing.T, cfg *config.WarrenConfig) (*Engine, *blackboard.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	if cfg == nil {
		cfg = testConfig(t)
	}
	return NewEngine(client, cfg, logging.Nop()), client, mr
}

var sweeperTags = []string{"stage:ops", "family:noise", "unit:sweeper"}

func sweeperReflection(author, pain string) *blackboard.Reflection {
	return &blackboard.Reflection{
		Author:     author,
		Pain:       pain,
		Severity:   blackboard.SeverityHigh,
		Confidence: 8,
		Tags:       sweeperTags,
	}
}

func TestEngineWorkedExample(t *testing.T) {
	engine, _, _ := setupTestEngine(t, nil)
	ctx := context.Background()

	a, err := engine.IngestReflection(ctx, sweeperReflection("x", "sweeper crash on retry"))
	require.NoError(t, err)
	assert.Equal(t, blackboard.InsightStatusCandidate, a.Status)

	b, err := engine.IngestReflection(ctx, sweeperReflection("y", "sweeper crash again"))
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, blackboard.InsightStatusPromoted, b.Status)

	result, err := engine.RunCatchUpScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[bridge.OutcomeCreated])

	linked, err := engine.GetInsight(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, blackboard.InsightStatusTaskCreated, linked.Status)

	task, err := engine.GetTask(ctx, linked.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "sweeper-owner", task.Assignee)
	assert.Equal(t, blackboard.TaskStatusTodo, task.Status)

	again, err := engine.RunCatchUpScan(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Outcomes[bridge.OutcomeCreated])

	tasks, err := engine.ListTasks(ctx, blackboard.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	promoted, err := engine.ListInsights(ctx, &filter.InsightCriteria{Statuses: []blackboard.InsightStatus{blackboard.InsightStatusPromoted}})
	require.NoError(t, err)
	assert.Empty(t, promoted)
}

func TestEngineGuardedUpdate(t *testing.T) {
	engine, _, _ := setupTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, engine.CreateTask(ctx, "alice", &blackboard.Task{
		ID:       "t1",
		Title:    "fix flaky deploy",
		Status:   blackboard.TaskStatusReview,
		Assignee: "alice",
		Reviewer: "rita",
	}))
	created := engine.GetAuditForTask("t1")
	require.NotEmpty(t, created)
	assert.Equal(t, "alice", created[0].Actor)

	task, err := engine.GetTask(ctx, "t1")
	require.NoError(t, err)
	task.Metadata.ReviewerApproved = blackboard.BoolPtr(true)

	err = engine.UpdateTask(ctx, "mallory", task, "")
	var unauthorized *audit.UnauthorizedApprovalError
	require.True(t, errors.As(err, &unauthorized))

	alerts := engine.ListAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, blackboard.AlertTypeUnauthorizedApproval, alerts[0].Type)
	assert.Equal(t, "mallory", alerts[0].Actor)

	task.Metadata.ApprovedBy = "rita"
	require.NoError(t, engine.UpdateTask(ctx, "rita", task, "lgtm"))

	stored, err := engine.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, stored.Metadata.Approved())

	approvals := engine.GetAuditEntries(&filter.AuditCriteria{TaskID: "t1", Field: blackboard.MetaReviewerApproved})
	require.Len(t, approvals, 1)
	assert.Equal(t, "rita", approvals[0].Actor)
}

func TestEngineAssignment(t *testing.T) {
	engine, _, _ := setupTestEngine(t, nil)
	ctx := context.Background()

	for _, id := range []string{"w1", "w2"} {
		require.NoError(t, engine.CreateTask(ctx, "seed", &blackboard.Task{
			ID: id, Title: "busy", Status: blackboard.TaskStatusDoing, Assignee: "sweeper-owner",
		}))
	}

	check, err := engine.CheckWipCap(ctx, "sweeper-owner")
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, 2, check.Current)

	task := &blackboard.Task{ID: "n1", Title: "sweeper noise", Tags: []string{"sweeper"}}
	score, err := engine.ScoreAssignment(ctx, "sweeper-owner", task)
	require.NoError(t, err)
	assert.True(t, score.OverCap)

	suggestion, err := engine.SuggestAssignee(ctx, task, "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", suggestion.Agent)

	_, err = engine.CheckWipCap(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUnknownAgent)
	_, err = engine.ScoreAssignment(ctx, "nobody", task)
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestEngineSuppression(t *testing.T) {
	engine, _, _ := setupTestEngine(t, nil)
	ctx := context.Background()

	first, err := engine.CheckSuppression(ctx, "ops", "general", "Sweeper  FLAPPING")
	require.NoError(t, err)
	assert.False(t, first.IsDuplicate)

	second, err := engine.CheckSuppression(ctx, "ops", "general", "sweeper flapping")
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, int64(2), second.Existing.HitCount)

	stats, err := engine.SuppressionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Suppressed)

	removed, err := engine.PruneSuppression(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestEngineRecover(t *testing.T) {
	cfg := testConfig(t)
	first, _, _ := setupTestEngine(t, cfg)
	ctx := context.Background()

	require.NoError(t, first.CreateTask(ctx, "alice", &blackboard.Task{
		ID: "t1", Title: "review me", Status: blackboard.TaskStatusReview, Reviewer: "rita",
	}))
	written := first.GetAuditForTask("t1")
	require.NotEmpty(t, written)

	second, _, _ := setupTestEngine(t, cfg)
	assert.Empty(t, second.GetAuditForTask("t1"))
	second.Recover(ctx)
	assert.Equal(t, written, second.GetAuditForTask("t1"))
}

func TestEngineContinuity(t *testing.T) {
	engine, _, _ := setupTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, engine.CreateTask(ctx, "seed", &blackboard.Task{
		ID: "b1", Title: "sweeper noise cleanup", Status: blackboard.TaskStatusBacklog, Tags: []string{"sweeper"},
	}))
	require.NoError(t, engine.CreateTask(ctx, "seed", &blackboard.Task{
		ID: "b2", Title: "refresh runbook", Status: blackboard.TaskStatusBacklog, Tags: []string{"docs"},
	}))

	result, err := engine.TickContinuityLoop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.AgentsChecked)
	assert.Equal(t, int64(1), engine.GetContinuityStats().CyclesRun)
	assert.NotEmpty(t, engine.GetContinuityAuditLog())

	for id, want := range map[string]string{"b1": "sweeper-owner", "b2": "docs"} {
		claimed, err := engine.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, claimed.Assignee, id)
	}

	_, err = engine.PauseContinuity(ctx, time.Now().Add(time.Hour), "deploy freeze")
	require.NoError(t, err)
	state, paused, err := engine.ContinuityPauseStatus(ctx)
	require.NoError(t, err)
	assert.True(t, paused)
	assert.Equal(t, "deploy freeze", state.Reason)

	require.NoError(t, engine.ResumeContinuity(ctx))
	_, paused, err = engine.ContinuityPauseStatus(ctx)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestEngineRun(t *testing.T) {
	engine, _, _ := setupTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		return engine.BridgeRunning() && engine.loop.Running()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.False(t, engine.BridgeRunning())
	assert.False(t, engine.loop.Running())
}
