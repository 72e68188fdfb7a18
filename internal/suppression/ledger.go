// Package suppression keeps outbound alerts unique within a time window.
//
// Every alert is fingerprinted by category, channel and its normalized body.
// The first sighting of a fingerprint is delivered; repeats inside the window
// only bump a hit counter. The check-and-record step runs as a single Redis
// script so concurrent senders cannot both pass.
package suppression

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/warren/internal/notify"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/rs/zerolog"
)

// Store is the persistence the ledger needs. *blackboard.Client implements it.
type Store interface {
	CheckSuppression(ctx context.Context, dedupKey, category, channel string, nowMs, windowMs int64) (*blackboard.SuppressionEntry, bool, error)
	PruneSuppression(ctx context.Context, nowMs, windowMs int64) (int, error)
	ListSuppressionEntries(ctx context.Context) ([]*blackboard.SuppressionEntry, error)
	ReleaseSuppression(ctx context.Context, dedupKey string, firstSeenMs int64) (bool, error)
}

// CheckResult reports the outcome of one Check.
type CheckResult struct {
	IsDuplicate bool                         `json:"is_duplicate"`
	DedupKey    string                       `json:"dedup_key"`
	Existing    *blackboard.SuppressionEntry `json:"existing,omitempty"` // Set when IsDuplicate

	recorded *blackboard.SuppressionEntry
}

// Stats summarises the ledger.
type Stats struct {
	Entries    int              `json:"entries"`
	TotalHits  int64            `json:"total_hits"`
	Suppressed int64            `json:"suppressed"`
	ByCategory map[string]int64 `json:"by_category"`
}

// Ledger is the suppression ledger.
type Ledger struct {
	store  Store
	window time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewLedger creates a ledger that treats repeats within window as duplicates.
func NewLedger(store Store, window time.Duration, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		window: window,
		now:    time.Now,
		logger: logger,
	}
}

// Window returns the dedup window.
func (l *Ledger) Window() time.Duration {
	return l.window
}

// Check records a sighting and reports whether it duplicates a recent one.
func (l *Ledger) Check(ctx context.Context, category, channel, content string) (CheckResult, error) {
	key := DedupKey(category, channel, content)
	entry, dup, err := l.store.CheckSuppression(ctx, key, category, channel, l.now().UnixMilli(), l.window.Milliseconds())
	if err != nil {
		return CheckResult{DedupKey: key}, fmt.Errorf("failed to check suppression ledger: %w", err)
	}

	result := CheckResult{IsDuplicate: dup, DedupKey: key, recorded: entry}
	if dup {
		result.Existing = entry
	}
	return result, nil
}

// Release forgets the sighting recorded by a non-duplicate Check, so the next
// equivalent alert is treated as new. A later sighting that has since reset
// the entry is left alone.
func (l *Ledger) Release(ctx context.Context, result CheckResult) error {
	if result.IsDuplicate || result.recorded == nil {
		return nil
	}
	if _, err := l.store.ReleaseSuppression(ctx, result.DedupKey, result.recorded.FirstSeenAtMs); err != nil {
		return fmt.Errorf("failed to release suppression entry: %w", err)
	}
	return nil
}

// Prune removes entries that have aged out of the window.
func (l *Ledger) Prune(ctx context.Context) (int, error) {
	removed, err := l.store.PruneSuppression(ctx, l.now().UnixMilli(), l.window.Milliseconds())
	if err != nil {
		return removed, fmt.Errorf("failed to prune suppression ledger: %w", err)
	}
	if removed > 0 {
		l.logger.Info().Str("event_type", "suppression_pruned").Int("removed", removed).Msg("pruned suppression ledger")
	}
	return removed, nil
}

// Stats summarises the current ledger contents.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	entries, err := l.store.ListSuppressionEntries(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list suppression ledger: %w", err)
	}

	stats := Stats{Entries: len(entries), ByCategory: make(map[string]int64)}
	for _, e := range entries {
		stats.TotalHits += e.HitCount
		if e.HitCount > 1 {
			stats.Suppressed += e.HitCount - 1
		}
		stats.ByCategory[e.Category] += e.HitCount
	}
	return stats, nil
}

// RunPruner prunes every interval until ctx is cancelled.
func (l *Ledger) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Prune(ctx); err != nil && ctx.Err() == nil {
				l.logger.Error().Err(err).Str("event_type", "suppression_prune_failed").Msg("prune failed")
			}
		}
	}
}

// Gate sends notifications through the ledger, dropping duplicates.
type Gate struct {
	ledger   *Ledger
	notifier notify.Notifier
	logger   zerolog.Logger
}

// NewGate wraps notifier with duplicate suppression.
func NewGate(ledger *Ledger, notifier notify.Notifier, logger zerolog.Logger) *Gate {
	return &Gate{ledger: ledger, notifier: notifier, logger: logger}
}

// Dispatch delivers n unless an equivalent notification went out inside the
// window. A ledger failure fails open and delivers. A failed delivery releases
// the sighting so a retry is not suppressed. Returns whether n was delivered.
func (g *Gate) Dispatch(ctx context.Context, n *blackboard.Notification) (bool, error) {
	result, err := g.ledger.Check(ctx, n.Category, n.Channel, n.Content)
	if err != nil {
		g.logger.Error().Err(err).Str("event_type", "suppression_check_failed").Str("category", n.Category).Msg("delivering without suppression")
	} else if result.IsDuplicate {
		g.logger.Debug().
			Str("event_type", "notification_suppressed").
			Str("dedup_key", result.DedupKey).
			Int64("hit_count", result.Existing.HitCount).
			Msg("suppressed duplicate notification")
		return false, nil
	}

	if n.TimestampMs == 0 {
		n.TimestampMs = g.ledger.now().UnixMilli()
	}
	if err := g.notifier.Notify(ctx, n); err != nil {
		if rerr := g.ledger.Release(context.WithoutCancel(ctx), result); rerr != nil {
			g.logger.Error().Err(rerr).Str("event_type", "suppression_release_failed").Str("dedup_key", result.DedupKey).Msg("retry of undelivered notification will be suppressed")
		}
		return false, fmt.Errorf("failed to deliver notification: %w", err)
	}
	return true, nil
}
