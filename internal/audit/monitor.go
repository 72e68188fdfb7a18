package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dyluth/warren/internal/filter"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxRetainedAlerts bounds the in-memory alert history.
const maxRetainedAlerts = 1000

// Throttler grants at most one token per name per window.
// *blackboard.Client implements it.
type Throttler interface {
	AcquireThrottle(ctx context.Context, name string, window time.Duration) (bool, error)
}

// Dispatcher sends an outbound alert. *suppression.Gate implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *blackboard.Notification) (bool, error)
}

// MonitorConfig tunes the monitor.
type MonitorConfig struct {
	ThrottleWindow time.Duration
	FlipThreshold  int
	Channel        string // Notification channel for alerts
}

// Monitor raises mutation alerts.
type Monitor struct {
	ledger     *Ledger
	throttle   Throttler
	dispatcher Dispatcher
	cfg        MonitorConfig
	now        func() time.Time
	logger     zerolog.Logger

	mu     sync.Mutex
	alerts []blackboard.MutationAlert
}

// NewMonitor creates a monitor that reads flip history from ledger.
// dispatcher may be nil, in which case alerts are only logged and retained.
func NewMonitor(ledger *Ledger, throttle Throttler, dispatcher Dispatcher, cfg MonitorConfig, logger zerolog.Logger) *Monitor {
	if cfg.FlipThreshold < 1 {
		cfg.FlipThreshold = 2
	}
	if cfg.Channel == "" {
		cfg.Channel = "security"
	}
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = 15 * time.Minute
	}
	return &Monitor{
		ledger:     ledger,
		throttle:   throttle,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}
}

// AlertUnauthorizedApproval records that actor tried to approve task without
// being its reviewer. The audit entry is always written; the outbound alert is
// throttled per (actor, task).
func (m *Monitor) AlertUnauthorizedApproval(ctx context.Context, actor string, task *blackboard.Task, expectedReviewer string) *blackboard.MutationAlert {
	m.ledger.Append(ctx, blackboard.AuditEntry{
		TimestampMs: m.now().UnixMilli(),
		TaskID:      task.ID,
		Actor:       actor,
		Field:       FieldApprovalAttempt,
		Before:      expectedReviewer,
		After:       actor,
		Context:     "unauthorized approval rejected",
	})

	alert := &blackboard.MutationAlert{
		ID:               uuid.New().String(),
		Type:             blackboard.AlertTypeUnauthorizedApproval,
		Actor:            actor,
		TaskID:           task.ID,
		ExpectedReviewer: expectedReviewer,
		TimestampMs:      m.now().UnixMilli(),
	}
	content := fmt.Sprintf("unauthorized approval attempt on %s by %s (reviewer: %s)", task.ID, actor, displayReviewer(expectedReviewer))
	m.raise(ctx, alert, "unauthorized|"+actor+"|"+task.ID, content)
	return alert
}

// AlertFlipAttempt escalates when field on taskID has flipped between true and
// false at least FlipThreshold times. Flips already in the ledger count toward
// the threshold; the attempt described by from/to counts too unless it is the
// most recent recorded change. Returns nil when below the threshold.
func (m *Monitor) AlertFlipAttempt(ctx context.Context, actor, taskID, field, from, to string) *blackboard.MutationAlert {
	history := m.ledger.GetAuditEntries(&filter.AuditCriteria{TaskID: taskID, Field: field})

	flips := 0
	for _, e := range history {
		if isFlip(e.Before, e.After) {
			flips++
		}
	}
	if isFlip(from, to) {
		last := len(history) - 1
		if last < 0 || history[last].Before != from || history[last].After != to || history[last].Actor != actor {
			flips++
		}
	}

	if flips < m.cfg.FlipThreshold {
		return nil
	}

	alert := &blackboard.MutationAlert{
		ID:          uuid.New().String(),
		Type:        blackboard.AlertTypeFlipAttempt,
		Actor:       actor,
		TaskID:      taskID,
		Field:       field,
		FromValue:   from,
		ToValue:     to,
		Flips:       flips,
		TimestampMs: m.now().UnixMilli(),
	}
	content := fmt.Sprintf("%s on %s flipped %d times (latest %s -> %s by %s)", field, taskID, flips, from, to, actor)
	m.raise(ctx, alert, "flip|"+actor+"|"+taskID+"|"+field, content)
	return alert
}

// ListAlerts returns retained alerts oldest first.
func (m *Monitor) ListAlerts() []blackboard.MutationAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]blackboard.MutationAlert(nil), m.alerts...)
}

func (m *Monitor) raise(ctx context.Context, alert *blackboard.MutationAlert, throttleKey, content string) {
	allowed := true
	if m.throttle != nil {
		ok, err := m.throttle.AcquireThrottle(ctx, throttleKey, m.cfg.ThrottleWindow)
		if err != nil {
			m.logger.Error().Err(err).Str("event_type", "alert_throttle_failed").Msg("alerting without throttle")
		} else {
			allowed = ok
		}
	}
	alert.Throttled = !allowed

	m.mu.Lock()
	m.alerts = append(m.alerts, *alert)
	if len(m.alerts) > maxRetainedAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxRetainedAlerts:]
	}
	m.mu.Unlock()

	m.logger.Warn().
		Str("event_type", "mutation_alert").
		Str("alert_type", string(alert.Type)).
		Str("actor", alert.Actor).
		Str("task_id", alert.TaskID).
		Bool("throttled", alert.Throttled).
		Msg(content)

	if !allowed || m.dispatcher == nil {
		return
	}
	n := &blackboard.Notification{Category: "audit:" + string(alert.Type), Channel: m.cfg.Channel, Content: content}
	if _, err := m.dispatcher.Dispatch(ctx, n); err != nil {
		m.logger.Error().Err(err).Str("event_type", "alert_dispatch_failed").Str("task_id", alert.TaskID).Msg("failed to send mutation alert")
	}
}

func isFlip(from, to string) bool {
	return (from == "true" && to == "false") || (from == "false" && to == "true")
}

func displayReviewer(r string) string {
	if r == "" {
		return "unassigned"
	}
	return r
}
