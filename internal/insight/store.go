// Package insight ingests reflections and clusters them into insights.
//
// Every reflection maps to one cluster key. The first reflection in a cluster
// creates a candidate insight; later ones merge into it. After every ingest the
// promotion gate runs: a candidate with enough distinct authors, or one
// carrying an explicit promote flag, becomes promoted unless a cooldown is in
// force. Promotions are announced on the instance's insight event channel for
// the bridge to pick up.
package insight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/warren/internal/filter"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config tunes clustering and promotion.
type Config struct {
	PromotionThreshold int           // Distinct authors needed to promote
	DedupWindow        time.Duration // Identical content inside this window is rejected
}

// Store is the insight store.
type Store struct {
	client *blackboard.Client
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger
}

// NewStore creates an insight store over client.
func NewStore(client *blackboard.Client, cfg Config, logger zerolog.Logger) *Store {
	if cfg.PromotionThreshold < 1 {
		cfg.PromotionThreshold = 2
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = time.Hour
	}
	return &Store{client: client, cfg: cfg, now: time.Now, logger: logger}
}

// Threshold returns the configured promotion threshold.
func (s *Store) Threshold() int {
	return s.cfg.PromotionThreshold
}

// Ingest validates and persists a reflection and merges it into its cluster's
// insight. Returns the insight as stored after the merge.
func (s *Store) Ingest(ctx context.Context, r *blackboard.Reflection) (*blackboard.Insight, error) {
	if err := ValidateReflection(r); err != nil {
		return nil, err
	}

	now := s.now()
	nowMs := now.UnixMilli()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAtMs == 0 {
		r.CreatedAtMs = nowMs
	}
	r.ContentHash = ContentHash(r.Author, r.Pain)

	if err := s.client.SaveReflection(ctx, r, s.cfg.DedupWindow); err != nil {
		if errors.Is(err, blackboard.ErrDuplicateContent) {
			existing, _ := s.client.DuplicateOf(ctx, r.ContentHash)
			return nil, &DuplicateError{ContentHash: r.ContentHash, ReflectionID: existing}
		}
		return nil, fmt.Errorf("failed to save reflection: %w", err)
	}

	clusterKey := ClusterKey(r.Tags)
	id := blackboard.InsightID(clusterKey)

	var before blackboard.InsightStatus
	ins, err := s.client.UpsertInsight(ctx, id, func(existing *blackboard.Insight) (*blackboard.Insight, error) {
		before = ""
		if existing != nil {
			before = existing.Status
		}
		return s.merge(existing, id, clusterKey, r, nowMs), nil
	})
	if err != nil {
		if derr := s.client.DiscardReflection(context.WithoutCancel(ctx), r); derr != nil {
			s.logger.Error().Err(derr).
				Str("event_type", "reflection_discard_failed").
				Str("reflection_id", r.ID).
				Msg("failed to release reflection after merge failure")
		}
		return nil, fmt.Errorf("failed to merge reflection into insight: %w", err)
	}

	if err := s.client.TouchActivity(ctx, nowMs); err != nil {
		s.logger.Warn().Err(err).Str("event_type", "activity_stamp_failed").Msg("failed to stamp pipeline activity")
	}

	event := s.logger.Info().
		Str("event_type", "reflection_ingested").
		Str("reflection_id", r.ID).
		Str("insight_id", ins.ID).
		Str("cluster_key", clusterKey).
		Int("independent_count", ins.IndependentCount).
		Str("status", string(ins.Status))
	if before == "" {
		event.Msg("created insight")
	} else {
		event.Msg("merged reflection into insight")
	}

	if before != blackboard.InsightStatusPromoted && ins.Status == blackboard.InsightStatusPromoted {
		s.announce(ctx, ins)
	}
	return ins, nil
}

// merge folds r into existing, or starts a new insight when existing is nil.
// It must stay a pure function of its inputs since UpsertInsight may retry it.
func (s *Store) merge(existing *blackboard.Insight, id, clusterKey string, r *blackboard.Reflection, nowMs int64) *blackboard.Insight {
	var ins *blackboard.Insight
	if existing == nil {
		ins = &blackboard.Insight{
			ID:          id,
			ClusterKey:  clusterKey,
			Title:       Title(r.Pain),
			Status:      blackboard.InsightStatusCandidate,
			SeverityMax: r.Severity,
			CreatedAtMs: nowMs,
		}
	} else {
		c := *existing
		c.ReflectionIDs = append([]string(nil), existing.ReflectionIDs...)
		c.EvidenceRefs = append([]string(nil), existing.EvidenceRefs...)
		c.Authors = append([]string(nil), existing.Authors...)
		ins = &c
		if ins.Status == blackboard.InsightStatusTaskCreated {
			ins.RecurringCandidate = true
		}
	}

	ins.ReflectionIDs = appendUnique(ins.ReflectionIDs, r.ID)
	ins.EvidenceRefs = appendUnique(ins.EvidenceRefs, r.Evidence...)
	ins.Authors = appendUnique(ins.Authors, r.Author)
	ins.IndependentCount = len(ins.Authors)
	ins.SeverityMax = blackboard.MaxSeverity(ins.SeverityMax, r.Severity)
	ins.Score += ReflectionScore(r)
	ins.Priority = Priority(ins.SeverityMax)
	ins.UpdatedAtMs = nowMs

	threshold := s.cfg.PromotionThreshold
	ins.PromotionReadiness = float64(ins.IndependentCount) / float64(threshold)
	if ins.PromotionReadiness > 1 {
		ins.PromotionReadiness = 1
	}

	if ins.Status == blackboard.InsightStatusCandidate &&
		(ins.IndependentCount >= threshold || r.Promote) &&
		!ins.CooldownActive(nowMs) {
		ins.Status = blackboard.InsightStatusPromoted
	}
	return ins
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found && v != "" {
			list = append(list, v)
		}
	}
	return list
}

func (s *Store) announce(ctx context.Context, ins *blackboard.Insight) {
	ev := &blackboard.InsightEvent{InsightID: ins.ID, ClusterKey: ins.ClusterKey}
	if err := s.client.PublishInsightEvent(ctx, ev); err != nil {
		// The bridge catch-up scan picks the insight up on its next run
		s.logger.Error().Err(err).Str("event_type", "promotion_publish_failed").Str("insight_id", ins.ID).Msg("failed to publish promotion event")
		return
	}
	s.logger.Info().
		Str("event_type", "insight_promoted").
		Str("insight_id", ins.ID).
		Str("cluster_key", ins.ClusterKey).
		Msg("insight promoted")
}

// GetInsight retrieves an insight by ID.
func (s *Store) GetInsight(ctx context.Context, id string) (*blackboard.Insight, error) {
	return s.client.GetInsight(ctx, id)
}

// ListInsights returns insights matching c ordered by creation time.
func (s *Store) ListInsights(ctx context.Context, c *filter.InsightCriteria) ([]*blackboard.Insight, error) {
	all, err := s.client.ListInsights(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*blackboard.Insight, 0, len(all))
	for _, ins := range all {
		if c.Matches(ins) {
			out = append(out, ins)
		}
	}
	return out, nil
}

// UpdateInsightStatus moves an insight through its lifecycle. taskID may be
// empty except when entering task_created without an existing link. Writing
// the current state again is a no-op.
func (s *Store) UpdateInsightStatus(ctx context.Context, id string, status blackboard.InsightStatus, taskID string) (*blackboard.Insight, error) {
	if err := status.Validate(); err != nil {
		return nil, &ValidationError{Field: "status", Reason: err.Error()}
	}

	nowMs := s.now().UnixMilli()
	var before blackboard.InsightStatus
	ins, err := s.client.UpsertInsight(ctx, id, func(existing *blackboard.Insight) (*blackboard.Insight, error) {
		if existing == nil {
			return nil, redis.Nil
		}
		before = existing.Status
		if !existing.Status.CanTransition(status) {
			return nil, &TransitionError{From: existing.Status, To: status}
		}
		if taskID != "" && existing.TaskID != "" && existing.TaskID != taskID {
			return nil, ErrTaskAlreadyLinked
		}
		if status == blackboard.InsightStatusTaskCreated && taskID == "" && existing.TaskID == "" {
			return nil, &ValidationError{Field: "task_id", Reason: "task_created requires a task id"}
		}
		if existing.Status == status && (taskID == "" || existing.TaskID == taskID) {
			return nil, nil
		}

		next := *existing
		next.Status = status
		if next.TaskID == "" {
			next.TaskID = taskID
		}
		next.UpdatedAtMs = nowMs
		return &next, nil
	})
	if err != nil {
		return nil, err
	}

	if before != status {
		s.logger.Info().
			Str("event_type", "insight_status_changed").
			Str("insight_id", id).
			Str("from", string(before)).
			Str("to", string(status)).
			Str("task_id", ins.TaskID).
			Msg("insight status changed")
		if status == blackboard.InsightStatusPromoted {
			s.announce(ctx, ins)
		}
	}
	return ins, nil
}

// SetCooldown blocks promotion of an insight until until. A zero until clears
// the cooldown.
func (s *Store) SetCooldown(ctx context.Context, id string, until time.Time, reason string) (*blackboard.Insight, error) {
	nowMs := s.now().UnixMilli()
	return s.client.UpsertInsight(ctx, id, func(existing *blackboard.Insight) (*blackboard.Insight, error) {
		if existing == nil {
			return nil, redis.Nil
		}
		next := *existing
		next.CooldownUntilMs = 0
		next.CooldownReason = ""
		if !until.IsZero() {
			next.CooldownUntilMs = until.UnixMilli()
			next.CooldownReason = reason
		}
		next.UpdatedAtMs = nowMs
		return &next, nil
	})
}

// LastActivity returns the time of the last ingest, or the zero time if none.
func (s *Store) LastActivity(ctx context.Context) (time.Time, error) {
	ms, err := s.client.LastActivity(ctx)
	if err != nil || ms == 0 {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
