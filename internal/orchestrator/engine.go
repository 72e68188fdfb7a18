package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dyluth/warren/internal/assign"
	"github.com/dyluth/warren/internal/audit"
	"github.com/dyluth/warren/internal/auditlog"
	"github.com/dyluth/warren/internal/bridge"
	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/continuity"
	"github.com/dyluth/warren/internal/filter"
	"github.com/dyluth/warren/internal/insight"
	"github.com/dyluth/warren/internal/notify"
	"github.com/dyluth/warren/internal/suppression"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownAgent is returned when an operation names an agent missing from the registry.
var ErrUnknownAgent = errors.New("unknown agent")

// Engine is the coordinator. It owns every component of one warren instance
// and is the only entry point the admin server and the daemon use.
type Engine struct {
	client       *blackboard.Client
	instanceName string
	cfg          *config.WarrenConfig
	logger       zerolog.Logger

	suppression *suppression.Ledger
	gate        *suppression.Gate
	audit       *audit.Ledger
	monitor     *audit.Monitor
	guard       *audit.GuardedBoard
	insights    *insight.Store
	router      *assign.Router
	bridge      *bridge.Bridge
	loop        *continuity.Loop
	server      *Server
}

// NewEngine wires the components for client's instance. cfg must already be
// validated; a nil cfg uses config.Default().
func NewEngine(client *blackboard.Client, cfg *config.WarrenConfig, logger zerolog.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	instance := client.InstanceName()
	logger = logger.With().Str("instance", instance).Logger()

	e := &Engine{
		client:       client,
		instanceName: instance,
		cfg:          cfg,
		logger:       logger,
	}

	named := func(component string) zerolog.Logger {
		return logger.With().Str("component", component).Logger()
	}

	e.suppression = suppression.NewLedger(client, cfg.Suppression.Window, named("suppression"))
	notifier := notify.Fanout{notify.NewLog(named("notify")), notify.NewChat(client)}
	e.gate = suppression.NewGate(e.suppression, notifier, named("gate"))

	var sink audit.Sink
	switch cfg.Audit.Sink {
	case "redis":
		sink = client.AuditStream(0)
	default:
		sink = auditlog.NewFileSink(cfg.Audit.LogPath)
	}
	e.audit = audit.NewLedger(sink, cfg.Audit.RingSize, named("audit"))
	e.monitor = audit.NewMonitor(e.audit, client, e.gate, audit.MonitorConfig{
		ThrottleWindow: cfg.Audit.ThrottleWindow,
		FlipThreshold:  cfg.Audit.FlipThreshold,
	}, named("monitor"))
	e.guard = audit.NewGuardedBoard(client, e.audit, e.monitor)

	e.insights = insight.NewStore(client, insight.Config{
		PromotionThreshold: cfg.Insights.PromotionThreshold,
		DedupWindow:        cfg.Insights.DedupWindow,
	}, named("insights"))

	e.router = assign.NewRouter(client, assign.AgentsFromConfig(cfg.Agents), named("router"))

	e.bridge = bridge.New(client, e.insights, e.router, bridge.Config{
		Workers:    cfg.Bridge.Workers,
		Classifier: bridge.NewClassifier(cfg.Insights.BugKeywords, cfg.Insights.FeatureKeywords),
	}, named("bridge"))

	e.loop = continuity.New(client, e.router, e.insights, e.bridge, e.gate, client, continuity.Config{
		Interval: cfg.Continuity.Interval,
		LogSize:  cfg.Continuity.LogSize,
	}, named("continuity"))

	e.server = NewServer(e, cfg.Server, named("server"))
	return e
}

// InstanceName returns the instance this engine serves.
func (e *Engine) InstanceName() string {
	return e.instanceName
}

// Handler returns the admin HTTP handler.
func (e *Engine) Handler() http.Handler {
	return e.server.Handler()
}

// Recover restores in-memory state after a restart. The audit ring is replayed
// from the durable sink; a failed replay is logged and the engine continues
// with an empty ring.
func (e *Engine) Recover(ctx context.Context) {
	startTime := time.Now()
	loaded, err := e.audit.Load(ctx)
	if err != nil {
		e.logger.Error().Err(err).Str("event_type", "audit_replay_failed").Msg("audit replay stopped early")
	}
	e.logger.Info().
		Str("event_type", "recovery_complete").
		Int("audit_entries", loaded).
		Int64("duration_ms", time.Since(startTime).Milliseconds()).
		Msg("state recovery complete")
}

// Run recovers state, starts the bridge, the continuity loop, the suppression
// pruner and the admin server, and blocks until ctx is cancelled or one of
// them fails.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().
		Str("event_type", "engine_starting").
		Int("agents", len(e.cfg.Agents)).
		Msg("orchestrator starting")

	e.Recover(ctx)

	g, gctx := errgroup.WithContext(ctx)

	if err := e.StartInsightTaskBridge(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		e.StopInsightTaskBridge()
		return nil
	})

	g.Go(func() error {
		return e.server.Run(gctx)
	})

	if *e.cfg.Continuity.Enabled {
		e.loop.Start(gctx)
		g.Go(func() error {
			<-gctx.Done()
			e.loop.Stop()
			return nil
		})
	}

	g.Go(func() error {
		e.suppression.RunPruner(gctx, e.cfg.Suppression.PruneInterval)
		return nil
	})

	err := g.Wait()
	e.logger.Info().Str("event_type", "engine_stopped").Msg("orchestrator stopped")
	return err
}

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.client.Ping(ctx)
}

// IngestReflection validates r and merges it into its cluster's insight.
func (e *Engine) IngestReflection(ctx context.Context, r *blackboard.Reflection) (*blackboard.Insight, error) {
	return e.insights.Ingest(ctx, r)
}

// GetInsight returns one insight.
func (e *Engine) GetInsight(ctx context.Context, id string) (*blackboard.Insight, error) {
	return e.insights.GetInsight(ctx, id)
}

// ListInsights returns insights matching c, nil meaning all.
func (e *Engine) ListInsights(ctx context.Context, c *filter.InsightCriteria) ([]*blackboard.Insight, error) {
	return e.insights.ListInsights(ctx, c)
}

// UpdateInsightStatus moves an insight through its lifecycle.
func (e *Engine) UpdateInsightStatus(ctx context.Context, id string, status blackboard.InsightStatus, taskID string) (*blackboard.Insight, error) {
	return e.insights.UpdateInsightStatus(ctx, id, status, taskID)
}

// SetInsightCooldown blocks promotion of an insight until until.
func (e *Engine) SetInsightCooldown(ctx context.Context, id string, until time.Time, reason string) (*blackboard.Insight, error) {
	return e.insights.SetCooldown(ctx, id, until, reason)
}

// StartInsightTaskBridge starts the event-driven bridge, optionally preceded by
// a catch-up scan per configuration.
func (e *Engine) StartInsightTaskBridge(ctx context.Context) error {
	if err := e.bridge.Start(ctx, *e.cfg.Bridge.CatchUpOnStart); err != nil {
		return fmt.Errorf("failed to start insight-task bridge: %w", err)
	}
	return nil
}

// StopInsightTaskBridge stops the bridge and waits for it to exit.
func (e *Engine) StopInsightTaskBridge() {
	e.bridge.Stop()
}

// BridgeRunning reports whether the bridge is consuming promotion events.
func (e *Engine) BridgeRunning() bool {
	return e.bridge.Running()
}

// BridgeInsight runs the bridge for one insight.
func (e *Engine) BridgeInsight(ctx context.Context, id string, opts bridge.Options) (bridge.Result, error) {
	return e.bridge.Process(ctx, id, opts)
}

// RunCatchUpScan bridges every promoted insight without a task.
func (e *Engine) RunCatchUpScan(ctx context.Context) (bridge.CatchUpResult, error) {
	return e.bridge.RunCatchUpScan(ctx)
}

// TickContinuityLoop runs one continuity cycle now.
func (e *Engine) TickContinuityLoop(ctx context.Context) (continuity.TickResult, error) {
	return e.loop.Tick(ctx)
}

// GetContinuityStats returns the loop's counters.
func (e *Engine) GetContinuityStats() continuity.Stats {
	return e.loop.Stats()
}

// GetContinuityAuditLog returns the retained remediation actions, oldest first.
func (e *Engine) GetContinuityAuditLog() []continuity.Action {
	return e.loop.AuditLog()
}

// PauseContinuity suspends scheduled ticks until until.
func (e *Engine) PauseContinuity(ctx context.Context, until time.Time, reason string) (continuity.PauseState, error) {
	return e.loop.Pause(ctx, until, reason)
}

// ResumeContinuity clears a pause.
func (e *Engine) ResumeContinuity(ctx context.Context) error {
	return e.loop.Resume(ctx)
}

// ContinuityPauseStatus returns the stored pause and whether it is in force.
func (e *Engine) ContinuityPauseStatus(ctx context.Context) (continuity.PauseState, bool, error) {
	return e.loop.PauseStatus(ctx)
}

// CheckSuppression records one sighting of a notification and reports whether
// it duplicates one inside the window.
func (e *Engine) CheckSuppression(ctx context.Context, category, channel, content string) (suppression.CheckResult, error) {
	return e.suppression.Check(ctx, category, channel, content)
}

// PruneSuppression drops entries whose last sighting left the window.
func (e *Engine) PruneSuppression(ctx context.Context) (int, error) {
	return e.suppression.Prune(ctx)
}

// SuppressionStats summarises the ledger.
func (e *Engine) SuppressionStats(ctx context.Context) (suppression.Stats, error) {
	return e.suppression.Stats(ctx)
}

// Notify sends n through the suppression gate.
func (e *Engine) Notify(ctx context.Context, n *blackboard.Notification) (bool, error) {
	return e.gate.Dispatch(ctx, n)
}

// RecordReviewMutation appends audit entries for the reviewer fields that
// differ between before and after.
func (e *Engine) RecordReviewMutation(ctx context.Context, actor string, before, after *blackboard.Task, note string) []blackboard.AuditEntry {
	return e.audit.RecordReviewMutation(ctx, actor, before, after, note)
}

// GetAuditEntries returns audit entries matching c in write order.
func (e *Engine) GetAuditEntries(c *filter.AuditCriteria) []blackboard.AuditEntry {
	return e.audit.GetAuditEntries(c)
}

// GetAuditForTask returns every retained entry for one task.
func (e *Engine) GetAuditForTask(taskID string) []blackboard.AuditEntry {
	return e.audit.GetAuditForTask(taskID)
}

// AlertUnauthorizedApproval raises an alert for an approval by someone other
// than the task's reviewer.
func (e *Engine) AlertUnauthorizedApproval(ctx context.Context, actor string, task *blackboard.Task, expectedReviewer string) *blackboard.MutationAlert {
	return e.monitor.AlertUnauthorizedApproval(ctx, actor, task, expectedReviewer)
}

// AlertFlipAttempt raises an alert once a field has been toggled often enough.
func (e *Engine) AlertFlipAttempt(ctx context.Context, actor, taskID, field, from, to string) *blackboard.MutationAlert {
	return e.monitor.AlertFlipAttempt(ctx, actor, taskID, field, from, to)
}

// ListAlerts returns raised mutation alerts, oldest first.
func (e *Engine) ListAlerts() []blackboard.MutationAlert {
	return e.monitor.ListAlerts()
}

// CreateTask adds a task to the board through the approval guard, stamping
// its timestamps. The creation is audited like any other reviewer-field write.
func (e *Engine) CreateTask(ctx context.Context, actor string, t *blackboard.Task) error {
	return e.guard.CreateTask(ctx, actor, t, "task created")
}

// GetTask returns one task from the board.
func (e *Engine) GetTask(ctx context.Context, id string) (*blackboard.Task, error) {
	return e.client.GetTask(ctx, id)
}

// ListTasks returns the tasks matching f.
func (e *Engine) ListTasks(ctx context.Context, f blackboard.TaskFilter) ([]*blackboard.Task, error) {
	return e.client.ListTasks(ctx, f)
}

// UpdateTask writes next through the approval guard.
func (e *Engine) UpdateTask(ctx context.Context, actor string, next *blackboard.Task, note string) error {
	return e.guard.UpdateTask(ctx, actor, next, note)
}

// ScoreAssignment scores task for the named agent against its live workload.
func (e *Engine) ScoreAssignment(ctx context.Context, agentName string, task *blackboard.Task) (assign.AssignmentScore, error) {
	agent, ok := e.router.Agent(agentName)
	if !ok {
		return assign.AssignmentScore{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentName)
	}
	load, err := e.router.Workload(ctx)
	if err != nil {
		return assign.AssignmentScore{}, err
	}
	l := load[agentName]
	return assign.ScoreAssignment(agent, task, l.Wip, l.RecentCompletions), nil
}

// SuggestAssignee picks the best agent for task.
func (e *Engine) SuggestAssignee(ctx context.Context, task *blackboard.Task, override string) (assign.Suggestion, error) {
	return e.router.Suggest(ctx, task, override)
}

// CheckWipCap reports whether the named agent can take more work.
func (e *Engine) CheckWipCap(ctx context.Context, agentName string) (assign.WipCheck, error) {
	agent, ok := e.router.Agent(agentName)
	if !ok {
		return assign.WipCheck{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentName)
	}
	load, err := e.router.Workload(ctx)
	if err != nil {
		return assign.WipCheck{}, err
	}
	return assign.CheckWipCap(agent, load[agentName].Wip), nil
}

// Agents returns the registry, sorted by name.
func (e *Engine) Agents() []assign.Agent {
	return e.router.Agents()
}
