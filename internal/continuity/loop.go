// Package continuity runs the periodic check that keeps every agent's queue
// stocked.
//
// Each tick lists the configured agents' work. An agent with nothing in todo
// or doing is starved; the loop claims the best unassigned task for it, or
// failing that pushes the next promoted insight through the bridge with the
// agent as preferred assignee. Agents that stay starved raise a suppressed
// alert. Ticks run on a timer and can also be triggered by hand.
package continuity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/warren/internal/assign"
	"github.com/dyluth/warren/internal/bridge"
	"github.com/dyluth/warren/internal/filter"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/rs/zerolog"
)

// Board is the slice of the task board the loop needs.
type Board interface {
	ListTasks(ctx context.Context, f blackboard.TaskFilter) ([]*blackboard.Task, error)
	ClaimTask(ctx context.Context, taskID, assignee string, status blackboard.TaskStatus, nowMs int64) (*blackboard.Task, error)
}

// Roster knows the agents and their current load.
type Roster interface {
	Agents() []assign.Agent
	Workload(ctx context.Context) (map[string]assign.Load, error)
}

// InsightLister finds insights waiting for the bridge.
type InsightLister interface {
	ListInsights(ctx context.Context, c *filter.InsightCriteria) ([]*blackboard.Insight, error)
}

// Bridger pushes one insight through the bridge.
type Bridger interface {
	Process(ctx context.Context, insightID string, opts bridge.Options) (bridge.Result, error)
}

// Dispatcher sends a suppression-gated alert.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *blackboard.Notification) (bool, error)
}

// Action types.
const (
	ActionTaskClaimed    = "task_claimed"
	ActionInsightBridged = "insight_bridged"
	ActionStarvedAlert   = "starved_alert"
)

// Action is one remediation taken by a tick.
type Action struct {
	TimestampMs int64  `json:"timestamp_ms"`
	Agent       string `json:"agent"`
	Type        string `json:"type"`
	TaskID      string `json:"task_id,omitempty"`
	InsightID   string `json:"insight_id,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// TickResult describes one tick.
type TickResult struct {
	AgentsChecked int      `json:"agents_checked"`
	Starved       []string `json:"starved"`
	Replenished   int      `json:"replenished"`
	Actions       []Action `json:"actions"`
}

// Stats are the loop's lifetime counters.
type Stats struct {
	CyclesRun         int64 `json:"cycles_run"`
	InsightsPromoted  int64 `json:"insights_promoted"`
	TasksReplenished  int64 `json:"tasks_replenished"`
	StarvedDetections int64 `json:"starved_detections"`
	SkippedPaused     int64 `json:"skipped_paused"`
	LastTickMs        int64 `json:"last_tick_ms,omitempty"`
}

// Config tunes the loop.
type Config struct {
	Interval     time.Duration
	LogSize      int    // Retained actions
	AlertChannel string // Channel for starved-agent alerts
}

// Loop is the continuity loop.
type Loop struct {
	board      Board
	roster     Roster
	insights   InsightLister
	bridge     Bridger
	dispatcher Dispatcher
	kv         KV
	cfg        Config
	now        func() time.Time
	logger     zerolog.Logger

	tickMu sync.Mutex // One tick at a time

	mu    sync.Mutex
	stats Stats
	log   []Action

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a continuity loop. dispatcher may be nil to disable alerts.
func New(board Board, roster Roster, insights InsightLister, bridger Bridger, dispatcher Dispatcher, kv KV, cfg Config, logger zerolog.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.LogSize < 1 {
		cfg.LogSize = 500
	}
	if cfg.AlertChannel == "" {
		cfg.AlertChannel = "ops"
	}
	return &Loop{
		board:      board,
		roster:     roster,
		insights:   insights,
		bridge:     bridger,
		dispatcher: dispatcher,
		kv:         kv,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}
}

// Tick runs one cycle immediately, regardless of pause state.
func (l *Loop) Tick(ctx context.Context) (TickResult, error) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	result := TickResult{Starved: []string{}, Actions: []Action{}}
	agents := l.roster.Agents()
	result.AgentsChecked = len(agents)

	if len(agents) > 0 {
		loads, err := l.roster.Workload(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to read workload: %w", err)
		}

		for _, agent := range agents {
			if loads[agent.Name].Wip > 0 {
				continue
			}
			result.Starved = append(result.Starved, agent.Name)
			l.bump(func(s *Stats) { s.StarvedDetections++ })

			action, err := l.replenish(ctx, agent, agents, loads[agent.Name])
			if err != nil {
				l.logger.Error().Err(err).Str("event_type", "replenish_failed").Str("agent", agent.Name).Msg("failed to replenish starved agent")
			}
			if action != nil {
				result.Replenished++
				result.Actions = append(result.Actions, *action)
				continue
			}

			if alert := l.alertStarved(ctx, agent.Name); alert != nil {
				result.Actions = append(result.Actions, *alert)
			}
		}
	}

	l.mu.Lock()
	l.stats.CyclesRun++
	l.stats.LastTickMs = l.now().UnixMilli()
	l.log = append(l.log, result.Actions...)
	if len(l.log) > l.cfg.LogSize {
		l.log = l.log[len(l.log)-l.cfg.LogSize:]
	}
	l.mu.Unlock()

	l.logger.Info().
		Str("event_type", "continuity_tick").
		Int("agents_checked", result.AgentsChecked).
		Int("starved", len(result.Starved)).
		Int("replenished", result.Replenished).
		Msg("continuity tick completed")
	return result, nil
}

func (l *Loop) bump(fn func(s *Stats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}

// replenish gives agent one piece of work. It returns nil when nothing could
// be found.
func (l *Loop) replenish(ctx context.Context, agent assign.Agent, agents []assign.Agent, load assign.Load) (*Action, error) {
	action, err := l.claimBacklog(ctx, agent, agents, load)
	if action != nil || err != nil {
		return action, err
	}
	return l.bridgeNextInsight(ctx, agent)
}

func (l *Loop) claimBacklog(ctx context.Context, agent assign.Agent, agents []assign.Agent, load assign.Load) (*Action, error) {
	tasks, err := l.board.ListTasks(ctx, blackboard.TaskFilter{
		Statuses:   []blackboard.TaskStatus{blackboard.TaskStatusBacklog, blackboard.TaskStatusTodo},
		Unassigned: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unassigned tasks: %w", err)
	}

	type scored struct {
		task  *blackboard.Task
		score float64
	}
	var candidates []scored
	for _, t := range tasks {
		if assign.ProtectedFor(t, agents, agent.Name) {
			continue
		}
		s := assign.ScoreAssignment(agent, t, load.Wip, load.RecentCompletions)
		candidates = append(candidates, scored{task: t, score: s.Score})
	}
	// Board order (oldest first) breaks ties
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	for _, c := range candidates {
		claimed, err := l.board.ClaimTask(ctx, c.task.ID, agent.Name, blackboard.TaskStatusTodo, l.now().UnixMilli())
		if errors.Is(err, blackboard.ErrTaskAlreadyAssigned) || blackboard.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to claim task %s: %w", c.task.ID, err)
		}

		l.bump(func(s *Stats) { s.TasksReplenished++ })
		l.logger.Info().
			Str("event_type", "task_replenished").
			Str("agent", agent.Name).
			Str("task_id", claimed.ID).
			Float64("score", c.score).
			Msg("claimed backlog task for starved agent")
		return &Action{
			TimestampMs: l.now().UnixMilli(),
			Agent:       agent.Name,
			Type:        ActionTaskClaimed,
			TaskID:      claimed.ID,
			Detail:      fmt.Sprintf("score %.2f", c.score),
		}, nil
	}
	return nil, nil
}

func (l *Loop) bridgeNextInsight(ctx context.Context, agent assign.Agent) (*Action, error) {
	if l.insights == nil || l.bridge == nil {
		return nil, nil
	}
	pending, err := l.insights.ListInsights(ctx, filter.PromotedUnbridged())
	if err != nil {
		return nil, fmt.Errorf("failed to list promoted insights: %w", err)
	}

	for _, ins := range pending {
		res, err := l.bridge.Process(ctx, ins.ID, bridge.Options{PreferredAssignee: agent.Name})
		if err != nil {
			l.logger.Warn().Err(err).Str("event_type", "replenish_bridge_failed").Str("insight_id", ins.ID).Msg("failed to bridge insight for starved agent")
			continue
		}
		if res.Outcome != bridge.OutcomeCreated {
			continue
		}

		l.bump(func(s *Stats) {
			s.InsightsPromoted++
			s.TasksReplenished++
		})
		return &Action{
			TimestampMs: l.now().UnixMilli(),
			Agent:       agent.Name,
			Type:        ActionInsightBridged,
			TaskID:      res.TaskID,
			InsightID:   ins.ID,
			Detail:      ins.ClusterKey,
		}, nil
	}
	return nil, nil
}

func (l *Loop) alertStarved(ctx context.Context, agent string) *Action {
	if l.dispatcher == nil {
		return nil
	}
	content := fmt.Sprintf("agent %s is starved: no todo or doing work and nothing to replenish", agent)
	delivered, err := l.dispatcher.Dispatch(ctx, &blackboard.Notification{
		Category: "continuity",
		Channel:  l.cfg.AlertChannel,
		Content:  content,
	})
	if err != nil {
		l.logger.Error().Err(err).Str("event_type", "starved_alert_failed").Str("agent", agent).Msg("failed to send starved-agent alert")
		return nil
	}
	if !delivered {
		return nil
	}
	return &Action{TimestampMs: l.now().UnixMilli(), Agent: agent, Type: ActionStarvedAlert, Detail: content}
}

// Stats returns a snapshot of the counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// AuditLog returns retained actions oldest first.
func (l *Loop) AuditLog() []Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Action(nil), l.log...)
}

// Start runs scheduled ticks every Interval until Stop or ctx ends. Scheduled
// ticks are skipped while paused.
func (l *Loop) Start(ctx context.Context) {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.cfg.Interval)
		defer ticker.Stop()

		l.logger.Info().Str("event_type", "continuity_started").Dur("interval", l.cfg.Interval).Msg("continuity loop started")
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				l.scheduledTick(runCtx)
			}
		}
	}()
}

func (l *Loop) scheduledTick(ctx context.Context) {
	_, paused, err := l.PauseStatus(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Str("event_type", "pause_read_failed").Msg("running tick without pause state")
	}
	if paused {
		l.bump(func(s *Stats) { s.SkippedPaused++ })
		return
	}
	if _, err := l.Tick(ctx); err != nil && ctx.Err() == nil {
		l.logger.Error().Err(err).Str("event_type", "continuity_tick_failed").Msg("continuity tick failed")
	}
}

// Stop halts scheduled ticks and waits for an in-flight tick to finish.
func (l *Loop) Stop() {
	l.runMu.Lock()
	if !l.running {
		l.runMu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.running = false
	l.runMu.Unlock()

	cancel()
	<-done
	l.logger.Info().Str("event_type", "continuity_stopped").Msg("continuity loop stopped")
}

// Running reports whether scheduled ticks are active.
func (l *Loop) Running() bool {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	return l.running
}
