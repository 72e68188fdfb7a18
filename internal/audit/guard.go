package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/warren/pkg/blackboard"
)

// Board is the task board the guard writes through.
type Board interface {
	CreateTask(ctx context.Context, t *blackboard.Task) error
	UpdateTaskIf(ctx context.Context, t *blackboard.Task, check func(current *blackboard.Task) error) error
}

// UnauthorizedApprovalError is returned when someone other than the task's
// reviewer touches its approval fields.
type UnauthorizedApprovalError struct {
	TaskID           string
	Actor            string
	ExpectedReviewer string
}

func (e *UnauthorizedApprovalError) Error() string {
	return fmt.Sprintf("actor '%s' is not the reviewer of task %s (reviewer: %s)", e.Actor, e.TaskID, displayReviewer(e.ExpectedReviewer))
}

// GuardedBoard is the only write path for reviewer-sensitive task fields.
type GuardedBoard struct {
	board   Board
	ledger  *Ledger
	monitor *Monitor
	now     func() time.Time
}

// NewGuardedBoard wraps board with approval enforcement and auditing.
func NewGuardedBoard(board Board, ledger *Ledger, monitor *Monitor) *GuardedBoard {
	return &GuardedBoard{board: board, ledger: ledger, monitor: monitor, now: time.Now}
}

// CreateTask writes a new task on behalf of actor. A task may only be created
// already approved by its own reviewer.
func (g *GuardedBoard) CreateTask(ctx context.Context, actor string, t *blackboard.Task, note string) error {
	if grantsApproval(t) && !isReviewer(actor, t.Reviewer) {
		g.monitor.AlertUnauthorizedApproval(ctx, actor, t, t.Reviewer)
		return &UnauthorizedApprovalError{TaskID: t.ID, Actor: actor, ExpectedReviewer: t.Reviewer}
	}

	nowMs := g.now().UnixMilli()
	if t.CreatedAtMs == 0 {
		t.CreatedAtMs = nowMs
	}
	t.UpdatedAtMs = nowMs
	if err := g.board.CreateTask(ctx, t); err != nil {
		return err
	}
	g.ledger.RecordReviewMutation(ctx, actor, nil, t, note)
	return nil
}

// UpdateTask writes next on behalf of actor. Changes to reviewer_approved or
// approved_by are only accepted from the reviewer recorded on the stored task,
// checked against the version being replaced. Accepted writes are diffed into
// the audit ledger and approval toggles are checked for flip-flopping.
func (g *GuardedBoard) UpdateTask(ctx context.Context, actor string, next *blackboard.Task, note string) error {
	var before *blackboard.Task
	err := g.board.UpdateTaskIf(ctx, next, func(current *blackboard.Task) error {
		before = current
		if approvalChanged(current, next) && !isReviewer(actor, current.Reviewer) {
			return &UnauthorizedApprovalError{TaskID: current.ID, Actor: actor, ExpectedReviewer: current.Reviewer}
		}
		next.CreatedAtMs = current.CreatedAtMs
		next.UpdatedAtMs = g.now().UnixMilli()
		return nil
	})

	var unauthorized *UnauthorizedApprovalError
	if errors.As(err, &unauthorized) {
		g.monitor.AlertUnauthorizedApproval(ctx, actor, before, before.Reviewer)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", next.ID, err)
	}

	for _, e := range g.ledger.RecordReviewMutation(ctx, actor, before, next, note) {
		if e.Field == FieldReviewerApproved && isFlip(e.Before, e.After) {
			g.monitor.AlertFlipAttempt(ctx, actor, e.TaskID, e.Field, e.Before, e.After)
		}
	}
	return nil
}

func isReviewer(actor, reviewer string) bool {
	return reviewer != "" && actor == reviewer
}

func grantsApproval(t *blackboard.Task) bool {
	return t.Metadata.Approved() || t.Metadata.ApprovedBy != ""
}

func approvalChanged(before, after *blackboard.Task) bool {
	return boolString(before.Metadata.ReviewerApproved) != boolString(after.Metadata.ReviewerApproved) ||
		before.Metadata.ApprovedBy != after.Metadata.ApprovedBy
}
