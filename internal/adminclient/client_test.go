package adminclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/warren/internal/bridge"
	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/logging"
	"github.com/dyluth/warren/internal/orchestrator"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	bb, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { bb.Close() })

	cfg := &config.WarrenConfig{
		Version: "1.0",
		Agents:  map[string]config.Agent{"sweeper-owner": {Role: "ops", AffinityTags: []string{"sweeper"}}},
		Audit:   &config.AuditConfig{LogPath: filepath.Join(t.TempDir(), "audit.jsonl")},
	}
	require.NoError(t, cfg.Validate())

	srv := httptest.NewServer(orchestrator.NewEngine(bb, cfg, logging.Nop()).Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func reflection(author, pain string) *blackboard.Reflection {
	return &blackboard.Reflection{
		Author:     author,
		Pain:       pain,
		Severity:   blackboard.SeverityHigh,
		Confidence: 7,
		Tags:       []string{"stage:ops", "family:noise", "unit:sweeper"},
	}
}

func TestClientRoundTrip(t *testing.T) {
	c := setupTestServer(t)
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)

	_, err = c.IngestReflection(ctx, reflection("x", "sweeper crash on retry"))
	require.NoError(t, err)
	ins, err := c.IngestReflection(ctx, reflection("y", "sweeper crash again"))
	require.NoError(t, err)
	assert.Equal(t, blackboard.InsightStatusPromoted, ins.Status)

	ids, err := c.ListInsightIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{ins.ID}, ids)

	promoted, err := c.ListInsights(ctx, InsightQuery{Statuses: []string{"promoted"}, Unbridged: true})
	require.NoError(t, err)
	assert.Len(t, promoted, 1)

	result, err := c.RunCatchUpScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[bridge.OutcomeCreated])

	linked, err := c.GetInsight(ctx, ins.ID)
	require.NoError(t, err)
	assert.Equal(t, blackboard.InsightStatusTaskCreated, linked.Status)

	res, err := c.BridgeInsight(ctx, ins.ID, "")
	require.NoError(t, err)
	assert.Equal(t, bridge.OutcomeSkipped, res.Outcome)

	tick, err := c.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tick.AgentsChecked)

	stats, err := c.ContinuityStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.CyclesRun)

	pause, err := c.Pause(ctx, time.Hour, "freeze")
	require.NoError(t, err)
	assert.True(t, pause.Paused)
	require.NoError(t, c.Resume(ctx))
	status, err := c.PauseStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.Paused)

	removed, err := c.PruneSuppression(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	entries, err := c.Audit(ctx, AuditQuery{Since: "1h"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClientErrors(t *testing.T) {
	c := setupTestServer(t)
	ctx := context.Background()

	_, err := c.GetInsight(ctx, "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = c.IngestReflection(ctx, &blackboard.Reflection{Pain: "no author"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "validation", apiErr.Kind)

	_, err = c.Audit(ctx, AuditQuery{Since: "not-a-time"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	unreachable := New("http://127.0.0.1:1")
	_, err = unreachable.Health(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach orchestrator")
}
