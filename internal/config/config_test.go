package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warren.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
agents:
  sweeper:
    role: ops
    affinity_tags: [ops, noise]
    protected_domains: [deploy]
    wip_cap: 3
insights:
  promotion_threshold: 3
  dedup_window: 30m
  bug_keywords: [outage]
continuity:
  interval: 90s
suppression:
  window: 1h
audit:
  sink: redis
  throttle_window: 5m
`)

	config, err := Load(path)
	require.NoError(t, err)

	agent := config.Agents["sweeper"]
	assert.Equal(t, "ops", agent.Role)
	assert.Equal(t, []string{"ops", "noise"}, agent.AffinityTags)
	assert.Equal(t, []string{"deploy"}, agent.ProtectedDomains)
	assert.Equal(t, 3, agent.WipCap)

	assert.Equal(t, 3, config.Insights.PromotionThreshold)
	assert.Equal(t, 30*time.Minute, config.Insights.DedupWindow)
	assert.Equal(t, []string{"outage"}, config.Insights.BugKeywords)
	assert.Equal(t, DefaultFeatureKeywords, config.Insights.FeatureKeywords)
	assert.Equal(t, 90*time.Second, config.Continuity.Interval)
	assert.Equal(t, time.Hour, config.Suppression.Window)
	assert.Equal(t, "redis", config.Audit.Sink)
	assert.Equal(t, 5*time.Minute, config.Audit.ThrottleWindow)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/warren.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
agents:
  - this is invalid
    yaml syntax
`)

	config, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate_Defaults(t *testing.T) {
	config := &WarrenConfig{Version: "1.0"}
	require.NoError(t, config.Validate())

	assert.NotNil(t, config.Agents)
	assert.Equal(t, DefaultPromotionThreshold, config.Insights.PromotionThreshold)
	assert.Equal(t, DefaultDedupWindow, config.Insights.DedupWindow)
	assert.Equal(t, DefaultBugKeywords, config.Insights.BugKeywords)
	assert.True(t, *config.Bridge.CatchUpOnStart)
	assert.Equal(t, DefaultBridgeWorkers, config.Bridge.Workers)
	assert.True(t, *config.Continuity.Enabled)
	assert.Equal(t, DefaultContinuityInterval, config.Continuity.Interval)
	assert.Equal(t, DefaultSuppressionWindow, config.Suppression.Window)
	assert.Equal(t, DefaultAuditRingSize, config.Audit.RingSize)
	assert.Equal(t, "file", config.Audit.Sink)
	assert.Equal(t, DefaultAuditLogPath, config.Audit.LogPath)
	assert.Equal(t, DefaultFlipThreshold, config.Audit.FlipThreshold)
	assert.Equal(t, DefaultServerAddr, config.Server.Addr)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		config  WarrenConfig
		wantErr string
	}{
		{
			name:    "unsupported version",
			config:  WarrenConfig{Version: "2.0"},
			wantErr: "unsupported version: 2.0",
		},
		{
			name:    "agent without role",
			config:  WarrenConfig{Version: "1.0", Agents: map[string]Agent{"a": {}}},
			wantErr: "agent 'a': role is required",
		},
		{
			name:    "negative wip cap",
			config:  WarrenConfig{Version: "1.0", Agents: map[string]Agent{"a": {Role: "x", WipCap: -1}}},
			wantErr: "wip_cap must be >= 0",
		},
		{
			name: "protected domain with two owners",
			config: WarrenConfig{Version: "1.0", Agents: map[string]Agent{
				"a": {Role: "x", ProtectedDomains: []string{"deploy"}},
				"b": {Role: "y", ProtectedDomains: []string{"Deploy"}},
			}},
			wantErr: "protected domain 'deploy' claimed by both",
		},
		{
			name:    "bad audit sink",
			config:  WarrenConfig{Version: "1.0", Audit: &AuditConfig{Sink: "s3"}},
			wantErr: "invalid audit.sink",
		},
		{
			name:    "negative throttle window",
			config:  WarrenConfig{Version: "1.0", Audit: &AuditConfig{ThrottleWindow: -time.Minute}},
			wantErr: "audit.throttle_window must be positive",
		},
		{
			name:    "negative threshold",
			config:  WarrenConfig{Version: "1.0", Insights: &InsightsConfig{PromotionThreshold: -1}},
			wantErr: "promotion_threshold must be >= 1",
		},
		{
			name:    "interval too short",
			config:  WarrenConfig{Version: "1.0", Continuity: &ContinuityConfig{Interval: time.Millisecond}},
			wantErr: "continuity.interval must be at least 1s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefault(t *testing.T) {
	config := Default()
	assert.Equal(t, "1.0", config.Version)
	assert.Empty(t, config.Agents)
}
