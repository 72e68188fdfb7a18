// Package bridge turns promoted insights into tasks exactly once.
//
// Two paths feed the bridge: live promotion events from the insight store and
// a catch-up scan that re-evaluates every promoted, unbridged insight. Both go
// through Process, whose task creation is keyed by a Redis claim on the
// insight, so the paths may race freely without producing duplicate tasks.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/warren/internal/assign"
	"github.com/dyluth/warren/internal/filter"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Board is the slice of the task board the bridge needs.
type Board interface {
	CreateTask(ctx context.Context, t *blackboard.Task) error
	GetTask(ctx context.Context, taskID string) (*blackboard.Task, error)
	ListTasks(ctx context.Context, f blackboard.TaskFilter) ([]*blackboard.Task, error)
	ClaimInsightTask(ctx context.Context, insightID, taskID string) (string, bool, error)
	SubscribeInsightEvents(ctx context.Context) (*blackboard.InsightSubscription, error)
}

// Insights is the slice of the insight store the bridge needs.
type Insights interface {
	GetInsight(ctx context.Context, id string) (*blackboard.Insight, error)
	ListInsights(ctx context.Context, c *filter.InsightCriteria) ([]*blackboard.Insight, error)
	UpdateInsightStatus(ctx context.Context, id string, status blackboard.InsightStatus, taskID string) (*blackboard.Insight, error)
}

// Router suggests an assignee for bug-lane tasks.
type Router interface {
	Suggest(ctx context.Context, task *blackboard.Task, override string) (assign.Suggestion, error)
}

// Outcome is what Process did with an insight.
type Outcome string

const (
	OutcomeSkipped  Outcome = "skipped"  // Already bridged or not promoted
	OutcomeLinked   Outcome = "linked"   // An existing task covers the insight
	OutcomeCreated  Outcome = "created"  // A task was created (or adopted from a concurrent creator)
	OutcomeTriaged  Outcome = "triaged"  // Medium severity, handed to a human
	OutcomeDeferred Outcome = "deferred" // Low severity, waiting for corroboration
)

// Result describes one Process call.
type Result struct {
	InsightID string  `json:"insight_id"`
	Outcome   Outcome `json:"outcome"`
	TaskID    string  `json:"task_id,omitempty"`
	Lane      string  `json:"lane,omitempty"`
}

// CatchUpResult summarizes a catch-up scan.
type CatchUpResult struct {
	Scanned  int             `json:"scanned"`
	Outcomes map[Outcome]int `json:"outcomes"`
	Failed   int             `json:"failed"`
	Errors   []string        `json:"errors,omitempty"`
}

// Options control a single Process call.
type Options struct {
	// PreferredAssignee takes the task regardless of lane or score.
	PreferredAssignee string
}

// Config tunes the bridge.
type Config struct {
	Workers    int // Catch-up scan concurrency
	Classifier *Classifier
}

// Bridge is the insight-task bridge.
type Bridge struct {
	board      Board
	insights   Insights
	router     Router
	classifier *Classifier
	workers    int
	now        func() time.Time
	logger     zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a bridge. router may be nil, in which case bug-lane tasks are
// created unassigned.
func New(board Board, insights Insights, router Router, cfg Config, logger zerolog.Logger) *Bridge {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.Classifier == nil {
		cfg.Classifier = NewClassifier(nil, nil)
	}
	return &Bridge{
		board:      board,
		insights:   insights,
		router:     router,
		classifier: cfg.Classifier,
		workers:    cfg.Workers,
		now:        time.Now,
		logger:     logger,
	}
}

// Process runs one insight through the bridge.
func (b *Bridge) Process(ctx context.Context, insightID string, opts Options) (Result, error) {
	res := Result{InsightID: insightID, Outcome: OutcomeSkipped}

	ins, err := b.insights.GetInsight(ctx, insightID)
	if err != nil {
		return res, fmt.Errorf("failed to load insight %s: %w", insightID, err)
	}
	if ins.TaskID != "" || ins.Status != blackboard.InsightStatusPromoted {
		res.TaskID = ins.TaskID
		return res, nil
	}

	existing, err := b.findTaskForReflections(ctx, ins)
	if err != nil {
		return res, err
	}
	if existing != nil {
		if _, err := b.insights.UpdateInsightStatus(ctx, ins.ID, blackboard.InsightStatusTaskCreated, existing.ID); err != nil {
			return res, fmt.Errorf("failed to link insight %s to task %s: %w", ins.ID, existing.ID, err)
		}
		b.logger.Info().
			Str("event_type", "insight_linked").
			Str("insight_id", ins.ID).
			Str("task_id", existing.ID).
			Msg("linked insight to existing task")
		res.Outcome, res.TaskID = OutcomeLinked, existing.ID
		return res, nil
	}

	switch ins.SeverityMax {
	case blackboard.SeverityHigh, blackboard.SeverityCritical:
	case blackboard.SeverityMedium:
		if _, err := b.insights.UpdateInsightStatus(ctx, ins.ID, blackboard.InsightStatusPendingTriage, ""); err != nil {
			return res, fmt.Errorf("failed to move insight %s to triage: %w", ins.ID, err)
		}
		b.logger.Info().Str("event_type", "insight_triaged").Str("insight_id", ins.ID).Msg("insight needs human triage")
		res.Outcome = OutcomeTriaged
		return res, nil
	default:
		res.Outcome = OutcomeDeferred
		return res, nil
	}

	task, err := b.createTask(ctx, ins, opts)
	if err != nil {
		return res, err
	}
	if _, err := b.insights.UpdateInsightStatus(ctx, ins.ID, blackboard.InsightStatusTaskCreated, task.ID); err != nil {
		return res, fmt.Errorf("failed to link insight %s to task %s: %w", ins.ID, task.ID, err)
	}

	res.Outcome, res.TaskID, res.Lane = OutcomeCreated, task.ID, task.Metadata.Lane
	return res, nil
}

// findTaskForReflections returns a task already covering one of the insight's
// reflections, or one a previous run created for this insight.
func (b *Bridge) findTaskForReflections(ctx context.Context, ins *blackboard.Insight) (*blackboard.Task, error) {
	tasks, err := b.board.ListTasks(ctx, blackboard.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	for _, t := range tasks {
		if t.Metadata.SourceInsight == ins.ID {
			return t, nil
		}
		for _, rid := range ins.ReflectionIDs {
			if t.Metadata.ReferencesReflection(rid) {
				return t, nil
			}
		}
	}
	return nil, nil
}

// createTask claims the insight and creates its task. A concurrent caller that
// lost the claim adopts the winner's task ID; a claim left behind by a crash
// is healed by creating the task under the claimed ID.
func (b *Bridge) createTask(ctx context.Context, ins *blackboard.Insight, opts Options) (*blackboard.Task, error) {
	taskID, won, err := b.board.ClaimInsightTask(ctx, ins.ID, "task-"+uuid.New().String())
	if err != nil {
		return nil, err
	}

	if !won {
		t, err := b.board.GetTask(ctx, taskID)
		if err == nil {
			b.logger.Info().
				Str("event_type", "task_adopted").
				Str("insight_id", ins.ID).
				Str("task_id", taskID).
				Msg("adopted task from concurrent bridge run")
			return t, nil
		}
		if !blackboard.IsNotFound(err) {
			return nil, fmt.Errorf("failed to load claimed task %s: %w", taskID, err)
		}
	}

	task, err := b.buildTask(ctx, ins, taskID, opts)
	if err != nil {
		return nil, err
	}
	if err := b.board.CreateTask(ctx, task); err != nil {
		if errors.Is(err, blackboard.ErrTaskExists) {
			return b.board.GetTask(ctx, taskID)
		}
		return nil, fmt.Errorf("failed to create task for insight %s: %w", ins.ID, err)
	}

	b.logger.Info().
		Str("event_type", "task_created").
		Str("insight_id", ins.ID).
		Str("task_id", task.ID).
		Str("lane", task.Metadata.Lane).
		Str("assignee", task.Assignee).
		Bool("healed", !won).
		Msg("created task from insight")
	return task, nil
}

func (b *Bridge) buildTask(ctx context.Context, ins *blackboard.Insight, taskID string, opts Options) (*blackboard.Task, error) {
	nowMs := b.now().UnixMilli()
	task := &blackboard.Task{
		ID:           taskID,
		Title:        ins.Title,
		Tags:         clusterTags(ins.ClusterKey),
		DoneCriteria: fmt.Sprintf("Cluster %s no longer produces reflections", ins.ClusterKey),
		Priority:     ins.Priority,
		Metadata: blackboard.Metadata{
			SourceInsight:     ins.ID,
			SourceReflections: append([]string(nil), ins.ReflectionIDs...),
			ClusterKey:        ins.ClusterKey,
		},
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
	}
	if len(ins.ReflectionIDs) > 0 {
		task.Metadata.SourceReflection = ins.ReflectionIDs[0]
	}

	if b.classifier.IsFeatureRequest(ins.Title, ins.ClusterKey, ins.SeverityMax) {
		task.Metadata.Lane = blackboard.LaneFeature
		task.Status = blackboard.TaskStatusBacklog
		if opts.PreferredAssignee != "" {
			task.Status = blackboard.TaskStatusTodo
			task.Assignee = opts.PreferredAssignee
		}
		return task, nil
	}

	task.Metadata.Lane = blackboard.LaneBug
	task.Status = blackboard.TaskStatusTodo
	task.Assignee = opts.PreferredAssignee
	if task.Assignee == "" && b.router != nil {
		s, err := b.router.Suggest(ctx, task, "")
		if err != nil {
			b.logger.Warn().Err(err).Str("event_type", "assignment_failed").Str("insight_id", ins.ID).Msg("creating task unassigned")
		} else {
			task.Assignee = s.Agent
		}
	}
	return task, nil
}

func clusterTags(clusterKey string) []string {
	prefixes := []string{"stage:", "family:", "unit:"}
	var tags []string
	for i, part := range strings.Split(clusterKey, "::") {
		if i < len(prefixes) && part != "unknown" {
			tags = append(tags, prefixes[i]+part)
		}
	}
	return tags
}

// RunCatchUpScan re-evaluates every promoted, unbridged insight. Per-insight
// failures are counted and do not stop the scan.
func (b *Bridge) RunCatchUpScan(ctx context.Context) (CatchUpResult, error) {
	pending, err := b.insights.ListInsights(ctx, filter.PromotedUnbridged())
	if err != nil {
		return CatchUpResult{}, fmt.Errorf("failed to list promoted insights: %w", err)
	}

	result := CatchUpResult{Scanned: len(pending), Outcomes: map[Outcome]int{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, ins := range pending {
		id := ins.ID
		g.Go(func() error {
			res, err := b.Process(gctx, id, Options{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
				b.logger.Error().Err(err).Str("event_type", "catchup_item_failed").Str("insight_id", id).Msg("catch-up failed for insight")
				return nil
			}
			result.Outcomes[res.Outcome]++
			return nil
		})
	}
	_ = g.Wait()

	b.logger.Info().
		Str("event_type", "catchup_completed").
		Int("scanned", result.Scanned).
		Int("created", result.Outcomes[OutcomeCreated]).
		Int("failed", result.Failed).
		Msg("catch-up scan completed")
	return result, ctx.Err()
}

// Start subscribes to promotion events and runs one catch-up scan. Events are
// processed in a background goroutine until Stop is called or ctx ends.
func (b *Bridge) Start(ctx context.Context, catchUp bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub, err := b.board.SubscribeInsightEvents(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to insight events: %w", err)
	}

	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true
	go b.loop(runCtx, sub, catchUp)
	return nil
}

func (b *Bridge) loop(ctx context.Context, sub *blackboard.InsightSubscription, catchUp bool) {
	defer close(b.done)
	defer sub.Close()

	b.logger.Info().Str("event_type", "bridge_started").Msg("subscribed to insight events")
	if catchUp {
		if _, err := b.RunCatchUpScan(ctx); err != nil && ctx.Err() == nil {
			b.logger.Error().Err(err).Str("event_type", "catchup_failed").Msg("startup catch-up scan failed")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if _, err := b.Process(ctx, ev.InsightID, Options{}); err != nil {
				// Left for the next catch-up scan
				b.logger.Error().Err(err).Str("event_type", "bridge_event_failed").Str("insight_id", ev.InsightID).Msg("failed to bridge promoted insight")
			}
		case err, ok := <-sub.Errors():
			if !ok {
				return
			}
			b.logger.Warn().Err(err).Str("event_type", "bridge_subscription_error").Msg("insight subscription error")
		}
	}
}

// Stop cancels the event loop and waits for it to exit.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	cancel, done := b.cancel, b.done
	b.running = false
	b.mu.Unlock()

	cancel()
	<-done
	b.logger.Info().Str("event_type", "bridge_stopped").Msg("bridge stopped")
}

// Running reports whether the event loop is active.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
