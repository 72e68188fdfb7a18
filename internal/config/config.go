package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when a field is omitted.
const (
	DefaultPromotionThreshold = 2
	DefaultDedupWindow        = time.Hour
	DefaultBridgeWorkers      = 4
	DefaultContinuityInterval = 5 * time.Minute
	DefaultContinuityLogSize  = 500
	DefaultSuppressionWindow  = 30 * time.Minute
	DefaultPruneInterval      = 10 * time.Minute
	DefaultAuditRingSize      = 5000
	DefaultAuditLogPath       = ".warren/audit.jsonl"
	DefaultThrottleWindow     = 15 * time.Minute
	DefaultFlipThreshold      = 2
	DefaultServerAddr         = ":8080"
)

// DefaultBugKeywords always win over feature vocabulary when classifying insights.
var DefaultBugKeywords = []string{"crash", "error", "broken", "regression", "fix", "fail", "bug", "exception"}

// DefaultFeatureKeywords mark an insight as a feature request.
var DefaultFeatureKeywords = []string{"feature", "enhancement", "request", "improve", "support", "add", "wish"}

// WarrenConfig represents the top-level warren.yml configuration
type WarrenConfig struct {
	Version     string             `yaml:"version"`
	Agents      map[string]Agent   `yaml:"agents"`
	Insights    *InsightsConfig    `yaml:"insights,omitempty"`
	Bridge      *BridgeConfig      `yaml:"bridge,omitempty"`
	Continuity  *ContinuityConfig  `yaml:"continuity,omitempty"`
	Suppression *SuppressionConfig `yaml:"suppression,omitempty"`
	Audit       *AuditConfig       `yaml:"audit,omitempty"`
	Server      *ServerConfig      `yaml:"server,omitempty"`
}

// Agent is one entry of the agent registry
type Agent struct {
	Role             string   `yaml:"role"`
	AffinityTags     []string `yaml:"affinity_tags,omitempty"`
	ProtectedDomains []string `yaml:"protected_domains,omitempty"` // Domains hard-routed to this agent
	WipCap           int      `yaml:"wip_cap,omitempty"`          // 0 = unlimited
}

// InsightsConfig tunes clustering and promotion
type InsightsConfig struct {
	PromotionThreshold int           `yaml:"promotion_threshold,omitempty"` // Distinct authors needed to promote
	DedupWindow        time.Duration `yaml:"dedup_window,omitempty"`
	BugKeywords        []string      `yaml:"bug_keywords,omitempty"`
	FeatureKeywords    []string      `yaml:"feature_keywords,omitempty"`
}

// BridgeConfig tunes the insight-task bridge
type BridgeConfig struct {
	CatchUpOnStart *bool `yaml:"catch_up_on_start,omitempty"`
	Workers        int   `yaml:"workers,omitempty"` // Catch-up scan concurrency
}

// ContinuityConfig tunes the continuity loop
type ContinuityConfig struct {
	Enabled  *bool         `yaml:"enabled,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
	LogSize  int           `yaml:"log_size,omitempty"` // Retained remediation actions
}

// SuppressionConfig tunes the suppression ledger
type SuppressionConfig struct {
	Window        time.Duration `yaml:"window,omitempty"`
	PruneInterval time.Duration `yaml:"prune_interval,omitempty"`
}

// AuditConfig tunes the audit ledger and mutation alerts
type AuditConfig struct {
	RingSize       int           `yaml:"ring_size,omitempty"`
	Sink           string        `yaml:"sink,omitempty"` // "file" or "redis"
	LogPath        string        `yaml:"log_path,omitempty"`
	ThrottleWindow time.Duration `yaml:"throttle_window,omitempty"`
	FlipThreshold  int           `yaml:"flip_threshold,omitempty"`
}

// ServerConfig configures the admin HTTP server
type ServerConfig struct {
	Addr        string   `yaml:"addr,omitempty"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"` // Browser origins allowed to call the admin API
}

// Default returns a validated configuration with no agents
func Default() *WarrenConfig {
	c := &WarrenConfig{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(err)
	}
	return c
}

// Validate performs strict validation on the configuration and fills in defaults
func (c *WarrenConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Agents == nil {
		c.Agents = map[string]Agent{}
	}

	// Each protected domain may belong to a single owner
	owners := make(map[string]string)
	for name, agent := range c.Agents {
		if err := agent.Validate(name); err != nil {
			return err
		}
		for _, domain := range agent.ProtectedDomains {
			d := strings.ToLower(domain)
			if other, exists := owners[d]; exists {
				return fmt.Errorf("protected domain '%s' claimed by both '%s' and '%s'", d, other, name)
			}
			owners[d] = name
		}
	}

	if err := c.applyInsightDefaults(); err != nil {
		return err
	}
	if err := c.applyRuntimeDefaults(); err != nil {
		return err
	}
	return c.applyAuditDefaults()
}

func (c *WarrenConfig) applyInsightDefaults() error {
	if c.Insights == nil {
		c.Insights = &InsightsConfig{}
	}
	if c.Insights.PromotionThreshold == 0 {
		c.Insights.PromotionThreshold = DefaultPromotionThreshold
	}
	if c.Insights.PromotionThreshold < 1 {
		return fmt.Errorf("insights.promotion_threshold must be >= 1, got %d", c.Insights.PromotionThreshold)
	}
	if c.Insights.DedupWindow == 0 {
		c.Insights.DedupWindow = DefaultDedupWindow
	}
	if c.Insights.DedupWindow < 0 {
		return fmt.Errorf("insights.dedup_window must be positive")
	}
	if len(c.Insights.BugKeywords) == 0 {
		c.Insights.BugKeywords = append([]string(nil), DefaultBugKeywords...)
	}
	if len(c.Insights.FeatureKeywords) == 0 {
		c.Insights.FeatureKeywords = append([]string(nil), DefaultFeatureKeywords...)
	}
	return nil
}

func (c *WarrenConfig) applyRuntimeDefaults() error {
	if c.Bridge == nil {
		c.Bridge = &BridgeConfig{}
	}
	if c.Bridge.CatchUpOnStart == nil {
		enabled := true
		c.Bridge.CatchUpOnStart = &enabled
	}
	if c.Bridge.Workers == 0 {
		c.Bridge.Workers = DefaultBridgeWorkers
	}
	if c.Bridge.Workers < 1 {
		return fmt.Errorf("bridge.workers must be >= 1, got %d", c.Bridge.Workers)
	}

	if c.Continuity == nil {
		c.Continuity = &ContinuityConfig{}
	}
	if c.Continuity.Enabled == nil {
		enabled := true
		c.Continuity.Enabled = &enabled
	}
	if c.Continuity.Interval == 0 {
		c.Continuity.Interval = DefaultContinuityInterval
	}
	if c.Continuity.Interval < time.Second {
		return fmt.Errorf("continuity.interval must be at least 1s, got %s", c.Continuity.Interval)
	}
	if c.Continuity.LogSize == 0 {
		c.Continuity.LogSize = DefaultContinuityLogSize
	}

	if c.Suppression == nil {
		c.Suppression = &SuppressionConfig{}
	}
	if c.Suppression.Window == 0 {
		c.Suppression.Window = DefaultSuppressionWindow
	}
	if c.Suppression.PruneInterval == 0 {
		c.Suppression.PruneInterval = DefaultPruneInterval
	}
	if c.Suppression.Window < 0 || c.Suppression.PruneInterval < 0 {
		return fmt.Errorf("suppression durations must be positive")
	}

	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	return nil
}

func (c *WarrenConfig) applyAuditDefaults() error {
	if c.Audit == nil {
		c.Audit = &AuditConfig{}
	}
	if c.Audit.RingSize == 0 {
		c.Audit.RingSize = DefaultAuditRingSize
	}
	if c.Audit.RingSize < 1 {
		return fmt.Errorf("audit.ring_size must be >= 1, got %d", c.Audit.RingSize)
	}
	if c.Audit.Sink == "" {
		c.Audit.Sink = "file"
	}
	if c.Audit.Sink != "file" && c.Audit.Sink != "redis" {
		return fmt.Errorf("invalid audit.sink: %s (must be 'file' or 'redis')", c.Audit.Sink)
	}
	if c.Audit.LogPath == "" {
		c.Audit.LogPath = DefaultAuditLogPath
	}
	if c.Audit.ThrottleWindow == 0 {
		c.Audit.ThrottleWindow = DefaultThrottleWindow
	}
	if c.Audit.ThrottleWindow < 0 {
		return fmt.Errorf("audit.throttle_window must be positive, got %v", c.Audit.ThrottleWindow)
	}
	if c.Audit.FlipThreshold == 0 {
		c.Audit.FlipThreshold = DefaultFlipThreshold
	}
	if c.Audit.FlipThreshold < 1 {
		return fmt.Errorf("audit.flip_threshold must be >= 1, got %d", c.Audit.FlipThreshold)
	}
	return nil
}

// Validate performs validation on a single agent entry
func (a *Agent) Validate(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("agent name cannot be empty")
	}

	if a.Role == "" {
		return fmt.Errorf("agent '%s': role is required", name)
	}

	if a.WipCap < 0 {
		return fmt.Errorf("agent '%s': wip_cap must be >= 0 (0 = unlimited), got %d", name, a.WipCap)
	}

	for _, tag := range a.AffinityTags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("agent '%s': affinity_tags cannot contain empty entries", name)
		}
	}

	return nil
}

// Load reads and validates warren.yml from the specified path
func Load(path string) (*WarrenConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config WarrenConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
