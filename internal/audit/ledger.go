// Package audit records who changed reviewer-sensitive task fields and raises
// alerts when those changes look unauthorized or indecisive.
//
// The ledger keeps the most recent entries in memory for queries and mirrors
// every entry to a durable append-only sink. Persistence is best-effort: a
// sink failure is logged and never blocks the mutation being audited.
package audit

import (
	"context"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dyluth/warren/internal/filter"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/rs/zerolog"
)

// Audited field names.
const (
	FieldReviewer         = "reviewer"
	FieldStatus           = "status"
	FieldReviewerApproved = blackboard.MetaReviewerApproved
	FieldReviewState      = blackboard.MetaReviewState
	FieldApprovedBy       = blackboard.MetaApprovedBy
	FieldApprovalAttempt  = "approval_attempt"
)

// maxNoteBytes caps the free-text context stored with each entry.
const maxNoteBytes = 4096

// Sink is the durable side of the ledger. *auditlog.FileSink and
// *blackboard.AuditStream implement it.
type Sink interface {
	Append(ctx context.Context, entry blackboard.AuditEntry) error
	Load(ctx context.Context) ([]blackboard.AuditEntry, int, error)
}

// Ledger is the audit ledger.
type Ledger struct {
	mu     sync.RWMutex
	ring   *ring
	sink   Sink
	now    func() time.Time
	logger zerolog.Logger
}

// NewLedger creates a ledger retaining ringSize entries in memory.
// sink may be nil for a memory-only ledger.
func NewLedger(sink Sink, ringSize int, logger zerolog.Logger) *Ledger {
	return &Ledger{
		ring:   newRing(ringSize),
		sink:   sink,
		now:    time.Now,
		logger: logger,
	}
}

// Load replays the durable sink into the ring. Malformed persisted entries are
// skipped. Returns the number of entries loaded; when the sink fails partway
// the entries read before the failure are still replayed.
func (l *Ledger) Load(ctx context.Context) (int, error) {
	if l.sink == nil {
		return 0, nil
	}

	entries, skipped, err := l.sink.Load(ctx)

	l.mu.Lock()
	for _, e := range entries {
		l.ring.push(e)
	}
	l.mu.Unlock()

	l.logger.Info().
		Str("event_type", "audit_loaded").
		Int("loaded", len(entries)).
		Int("skipped", skipped).
		Msg("replayed audit log")
	return len(entries), err
}

// Append records one entry. The in-memory append happens before return; the
// durable append is attempted and its failure only logged.
func (l *Ledger) Append(ctx context.Context, entry blackboard.AuditEntry) {
	if entry.TimestampMs == 0 {
		entry.TimestampMs = l.now().UnixMilli()
	}

	l.mu.Lock()
	l.ring.push(entry)
	l.mu.Unlock()

	if l.sink == nil {
		return
	}
	if err := l.sink.Append(ctx, entry); err != nil {
		l.logger.Error().
			Err(err).
			Str("event_type", "audit_persist_failed").
			Str("task_id", entry.TaskID).
			Str("field", entry.Field).
			Msg("failed to persist audit entry")
	}
}

// RecordReviewMutation diffs the reviewer-sensitive fields of before and after
// and appends one entry per changed field. Status changes are only recorded
// when they move into or out of review. before may be nil for a new task.
func (l *Ledger) RecordReviewMutation(ctx context.Context, actor string, before, after *blackboard.Task, note string) []blackboard.AuditEntry {
	if after == nil {
		return nil
	}
	if before == nil {
		before = &blackboard.Task{ID: after.ID}
	}

	note = capNote(note)
	ts := l.now().UnixMilli()
	var entries []blackboard.AuditEntry
	add := func(field, from, to string) {
		if from == to {
			return
		}
		entries = append(entries, blackboard.AuditEntry{
			TimestampMs: ts,
			TaskID:      after.ID,
			Actor:       actor,
			Field:       field,
			Before:      from,
			After:       to,
			Context:     note,
		})
	}

	add(FieldReviewer, before.Reviewer, after.Reviewer)
	if before.Status == blackboard.TaskStatusReview || after.Status == blackboard.TaskStatusReview {
		add(FieldStatus, string(before.Status), string(after.Status))
	}
	add(FieldReviewerApproved, boolString(before.Metadata.ReviewerApproved), boolString(after.Metadata.ReviewerApproved))
	add(FieldReviewState, before.Metadata.ReviewState, after.Metadata.ReviewState)
	add(FieldApprovedBy, before.Metadata.ApprovedBy, after.Metadata.ApprovedBy)

	for _, e := range entries {
		l.Append(ctx, e)
	}
	return entries
}

// GetAuditEntries returns matching entries oldest first. A positive Limit keeps
// the newest Limit matches.
func (l *Ledger) GetAuditEntries(c *filter.AuditCriteria) []blackboard.AuditEntry {
	l.mu.RLock()
	out := []blackboard.AuditEntry{}
	l.ring.each(func(e *blackboard.AuditEntry) bool {
		if c.Matches(e) {
			out = append(out, *e)
		}
		return true
	})
	l.mu.RUnlock()

	if c != nil && c.Limit > 0 && len(out) > c.Limit {
		out = out[len(out)-c.Limit:]
	}
	return out
}

// GetAuditForTask returns every retained entry for one task in write order.
func (l *Ledger) GetAuditForTask(taskID string) []blackboard.AuditEntry {
	return l.GetAuditEntries(&filter.AuditCriteria{TaskID: taskID})
}

// Len returns the number of retained entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ring.len()
}

func capNote(note string) string {
	if len(note) <= maxNoteBytes {
		return note
	}
	cut := maxNoteBytes
	for cut > 0 && !utf8.RuneStart(note[cut]) {
		cut--
	}
	return note[:cut]
}

func boolString(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}
