// Package watch polls the orchestrator until a promoted insight settles.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/warren/pkg/blackboard"
)

// PollInterval is how often PollForTask re-reads the insight.
var PollInterval = 200 * time.Millisecond

// InsightGetter fetches one insight by ID.
type InsightGetter interface {
	GetInsight(ctx context.Context, id string) (*blackboard.Insight, error)
}

// Settled reports whether the bridge is done with ins: a task is linked, or
// the insight was handed to triage.
func Settled(ins *blackboard.Insight) bool {
	return ins.TaskID != "" || ins.Status == blackboard.InsightStatusPendingTriage
}

// PollForTask polls until the insight settles or timeout elapses.
func PollForTask(ctx context.Context, src InsightGetter, insightID string, timeout time.Duration) (*blackboard.Insight, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for insight %s to be bridged after %v", insightID, timeout)

		case <-ticker.C:
			ins, err := src.GetInsight(ctx, insightID)
			if err != nil {
				return nil, fmt.Errorf("failed to query insight: %w", err)
			}
			if Settled(ins) {
				return ins, nil
			}
		}
	}
}
