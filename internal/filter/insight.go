// Package filter holds the query criteria shared by the insight store, the
// audit ledger and the CLI.
package filter

import (
	"path/filepath"

	"github.com/dyluth/warren/pkg/blackboard"
)

// InsightCriteria selects insights. All set fields must match.
type InsightCriteria struct {
	Statuses       []blackboard.InsightStatus
	ClusterGlob    string // filepath.Match pattern over cluster_key, empty = no filter
	MinIndependent int
	SinceUpdatedMs int64
	Unbridged      bool // Only insights without a task_id
	MinSeverity    blackboard.Severity
}

// Matches returns true if the insight satisfies every criterion.
// A nil criteria matches everything.
func (c *InsightCriteria) Matches(ins *blackboard.Insight) bool {
	if c == nil {
		return true
	}

	if len(c.Statuses) > 0 {
		found := false
		for _, s := range c.Statuses {
			if ins.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if c.ClusterGlob != "" {
		matched, err := filepath.Match(c.ClusterGlob, ins.ClusterKey)
		if err != nil || !matched {
			return false
		}
	}

	if c.MinIndependent > 0 && ins.IndependentCount < c.MinIndependent {
		return false
	}
	if c.SinceUpdatedMs > 0 && ins.UpdatedAtMs < c.SinceUpdatedMs {
		return false
	}
	if c.Unbridged && ins.TaskID != "" {
		return false
	}
	if c.MinSeverity != "" && ins.SeverityMax.Rank() < c.MinSeverity.Rank() {
		return false
	}
	return true
}

// PromotedUnbridged selects insights the bridge still has to handle.
func PromotedUnbridged() *InsightCriteria {
	return &InsightCriteria{
		Statuses:  []blackboard.InsightStatus{blackboard.InsightStatusPromoted},
		Unbridged: true,
	}
}
