package blackboard

import (
	"fmt"

	"github.com/google/uuid"
)

// clusterNamespace seeds the name-based UUIDs used as insight IDs.
var clusterNamespace = uuid.MustParse("6f1c2a9e-3b7d-4e58-9a41-0c2d7e8b5f13")

// InsightID returns the deterministic insight ID for a cluster key.
// The same cluster key always yields the same ID, so concurrent creators of a
// cluster contend on a single Redis key.
func InsightID(clusterKey string) string {
	return uuid.NewSHA1(clusterNamespace, []byte(clusterKey)).String()
}

// Severity grades how much a reported pain hurts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from 1 (low) to 4 (critical). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Validate checks if the Severity is a valid enum value.
func (s Severity) Validate() error {
	if s.Rank() == 0 {
		return fmt.Errorf("unknown severity: %q", s)
	}
	return nil
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Reflection is an immutable structured postmortem filed by an agent.
type Reflection struct {
	ID           string   `json:"id"`
	Author       string   `json:"author" validate:"required"`
	RoleType     string   `json:"role_type"`
	Confidence   int      `json:"confidence" validate:"min=0,max=10"`
	Pain         string   `json:"pain" validate:"required"`
	Impact       string   `json:"impact"`
	Evidence     []string `json:"evidence"`
	WentWell     string   `json:"went_well"`
	SuspectedWhy string   `json:"suspected_why"`
	ProposedFix  string   `json:"proposed_fix"`
	Severity     Severity `json:"severity" validate:"required,oneof=low medium high critical"`
	Tags         []string `json:"tags"`
	Promote      bool     `json:"promote,omitempty"` // Explicit promotion override
	ContentHash  string   `json:"content_hash"`
	CreatedAtMs  int64    `json:"created_at_ms"`
}

// InsightStatus is the lifecycle state of an insight.
type InsightStatus string

const (
	// InsightStatusCandidate is a cluster that has not met the promotion gate
	InsightStatusCandidate InsightStatus = "candidate"

	// InsightStatusPromoted is a cluster waiting to be bridged into a task
	InsightStatusPromoted InsightStatus = "promoted"

	// InsightStatusPendingTriage is a medium-severity cluster waiting for a human
	InsightStatusPendingTriage InsightStatus = "pending_triage"

	// InsightStatusTaskCreated is a cluster linked to a task on the board
	InsightStatusTaskCreated InsightStatus = "task_created"
)

// Validate checks if the InsightStatus is a valid enum value.
func (s InsightStatus) Validate() error {
	switch s {
	case InsightStatusCandidate, InsightStatusPromoted,
		InsightStatusPendingTriage, InsightStatusTaskCreated:
		return nil
	default:
		return fmt.Errorf("unknown insight status: %q", s)
	}
}

var insightTransitions = map[InsightStatus][]InsightStatus{
	InsightStatusCandidate:     {InsightStatusPromoted, InsightStatusPendingTriage},
	InsightStatusPromoted:      {InsightStatusPendingTriage, InsightStatusTaskCreated},
	InsightStatusPendingTriage: {InsightStatusPromoted, InsightStatusTaskCreated},
}

// CanTransition reports whether an insight may move from s to next.
// Writing the current status again is always allowed.
func (s InsightStatus) CanTransition(next InsightStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range insightTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Insight aggregates every reflection that shares a cluster key.
type Insight struct {
	ID                 string        `json:"id"`
	ClusterKey         string        `json:"cluster_key"` // stage::family::unit
	Title              string        `json:"title"`
	Status             InsightStatus `json:"status"`
	Score              float64       `json:"score"`
	Priority           string        `json:"priority"` // P0..P3
	ReflectionIDs      []string      `json:"reflection_ids"`
	IndependentCount   int           `json:"independent_count"` // Distinct authors
	EvidenceRefs       []string      `json:"evidence_refs"`
	Authors            []string      `json:"authors"`
	PromotionReadiness float64       `json:"promotion_readiness"`
	RecurringCandidate bool          `json:"recurring_candidate"`
	CooldownUntilMs    int64         `json:"cooldown_until_ms,omitempty"`
	CooldownReason     string        `json:"cooldown_reason,omitempty"`
	SeverityMax        Severity      `json:"severity_max"`
	TaskID             string        `json:"task_id,omitempty"` // Set exactly once
	CreatedAtMs        int64         `json:"created_at_ms"`
	UpdatedAtMs        int64         `json:"updated_at_ms"`
}

// Validate checks if the Insight has valid field values.
func (i *Insight) Validate() error {
	if !isValidUUID(i.ID) {
		return fmt.Errorf("invalid insight ID: not a valid UUID")
	}

	if i.ClusterKey == "" {
		return fmt.Errorf("cluster key cannot be empty")
	}

	if err := i.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	if i.SeverityMax != "" {
		if err := i.SeverityMax.Validate(); err != nil {
			return fmt.Errorf("invalid severity_max: %w", err)
		}
	}

	if i.Status == InsightStatusTaskCreated && i.TaskID == "" {
		return fmt.Errorf("task_created insight must reference a task")
	}

	return nil
}

// CooldownActive reports whether the insight's cooldown is still in force at nowMs.
// An elapsed cooldown reads as inactive without any cleanup.
func (i *Insight) CooldownActive(nowMs int64) bool {
	return i.CooldownUntilMs > nowMs
}

// TaskStatus is the board column a task sits in.
type TaskStatus string

const (
	TaskStatusBacklog   TaskStatus = "backlog"
	TaskStatusTodo      TaskStatus = "todo"
	TaskStatusDoing     TaskStatus = "doing"
	TaskStatusReview    TaskStatus = "review"
	TaskStatusBlocked   TaskStatus = "blocked"
	TaskStatusDone      TaskStatus = "done"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Validate checks if the TaskStatus is a valid enum value.
func (s TaskStatus) Validate() error {
	switch s {
	case TaskStatusBacklog, TaskStatusTodo, TaskStatusDoing, TaskStatusReview,
		TaskStatusBlocked, TaskStatusDone, TaskStatusCancelled:
		return nil
	default:
		return fmt.Errorf("unknown task status: %q", s)
	}
}

// Task is a work item on the board.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Status       TaskStatus `json:"status"`
	Assignee     string     `json:"assignee,omitempty"`
	Reviewer     string     `json:"reviewer,omitempty"`
	Tags         []string   `json:"tags"`
	DoneCriteria string     `json:"done_criteria,omitempty"`
	Priority     string     `json:"priority,omitempty"`
	Metadata     Metadata   `json:"metadata"`
	CreatedAtMs  int64      `json:"created_at_ms"`
	UpdatedAtMs  int64      `json:"updated_at_ms"`
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}

	if t.Title == "" {
		return fmt.Errorf("task title cannot be empty")
	}

	if err := t.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	return nil
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	c.Tags = append([]string(nil), t.Tags...)
	c.Metadata = t.Metadata.Clone()
	return &c
}

// TaskFilter narrows ListTasks. Zero-valued fields match everything.
type TaskFilter struct {
	Statuses      []TaskStatus
	Assignee      string
	Unassigned    bool
	SourceInsight string
}

// Matches reports whether the task passes the filter.
func (f TaskFilter) Matches(t *Task) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Assignee != "" && t.Assignee != f.Assignee {
		return false
	}
	if f.Unassigned && t.Assignee != "" {
		return false
	}
	if f.SourceInsight != "" && t.Metadata.SourceInsight != f.SourceInsight {
		return false
	}
	return true
}

// SuppressionEntry tracks one outbound alert fingerprint.
type SuppressionEntry struct {
	DedupKey      string `json:"dedup_key"`
	Category      string `json:"category"`
	Channel       string `json:"channel"`
	HitCount      int64  `json:"hit_count"`
	FirstSeenAtMs int64  `json:"first_seen_at_ms"`
	LastSeenAtMs  int64  `json:"last_seen_at_ms"`
}

// AuditEntry records one change to one reviewer-sensitive field.
type AuditEntry struct {
	TimestampMs int64  `json:"timestamp_ms"`
	TaskID      string `json:"task_id"`
	Actor       string `json:"actor"`
	Field       string `json:"field"`
	Before      string `json:"before"`
	After       string `json:"after"`
	Context     string `json:"context,omitempty"`
}

// AlertType distinguishes mutation alerts.
type AlertType string

const (
	AlertTypeUnauthorizedApproval AlertType = "unauthorized_approval"
	AlertTypeFlipAttempt          AlertType = "flip_attempt"
)

// MutationAlert is raised when a reviewer-sensitive field is touched by the wrong
// actor or toggled repeatedly.
type MutationAlert struct {
	ID               string    `json:"id"`
	Type             AlertType `json:"type"`
	Actor            string    `json:"actor"`
	TaskID           string    `json:"task_id"`
	ExpectedReviewer string    `json:"expected_reviewer,omitempty"`
	Field            string    `json:"field,omitempty"`
	FromValue        string    `json:"from_value,omitempty"`
	ToValue          string    `json:"to_value,omitempty"`
	Flips            int       `json:"flips,omitempty"`
	Throttled        bool      `json:"throttled"`
	TimestampMs      int64     `json:"timestamp_ms"`
}

// InsightEvent is published when an insight is promoted.
type InsightEvent struct {
	InsightID  string `json:"insight_id"`
	ClusterKey string `json:"cluster_key"`
}

// Notification is an outbound operational message.
type Notification struct {
	Category    string `json:"category"`
	Channel     string `json:"channel"`
	Content     string `json:"content"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
