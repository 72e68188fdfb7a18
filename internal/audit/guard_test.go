package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dyluth/warren/internal/logging"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGuard(t *testing.T) (*GuardedBoard, *blackboard.Client, *Monitor) {
	t.Helper()
	client, _ := setupTestClient(t)
	ledger := fixedLedger(nil, 100)
	monitor := NewMonitor(ledger, client, nil, MonitorConfig{ThrottleWindow: time.Minute, FlipThreshold: 2}, logging.Nop())

	require.NoError(t, client.CreateTask(context.Background(), &blackboard.Task{
		ID:       "t1",
		Title:    "fix flaky deploy",
		Status:   blackboard.TaskStatusReview,
		Assignee: "alice",
		Reviewer: "rita",
	}))
	return NewGuardedBoard(client, ledger, monitor), client, monitor
}

func TestGuardedBoardUpdateTask(t *testing.T) {
	ctx := context.Background()

	t.Run("reviewer may approve", func(t *testing.T) {
		guard, client, monitor := setupGuard(t)
		task, err := client.GetTask(ctx, "t1")
		require.NoError(t, err)

		task.Metadata.ReviewerApproved = blackboard.BoolPtr(true)
		task.Metadata.ApprovedBy = "rita"
		require.NoError(t, guard.UpdateTask(ctx, "rita", task, "lgtm"))

		stored, err := client.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.True(t, stored.Metadata.Approved())
		assert.Len(t, guard.ledger.GetAuditForTask("t1"), 2)
		assert.Empty(t, monitor.ListAlerts())
	})

	t.Run("non-reviewer approval is rejected and alerted", func(t *testing.T) {
		guard, client, monitor := setupGuard(t)
		task, err := client.GetTask(ctx, "t1")
		require.NoError(t, err)

		task.Metadata.ReviewerApproved = blackboard.BoolPtr(true)
		err = guard.UpdateTask(ctx, "alice", task, "")

		var unauthorized *UnauthorizedApprovalError
		require.True(t, errors.As(err, &unauthorized))
		assert.Equal(t, "rita", unauthorized.ExpectedReviewer)

		stored, err := client.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.False(t, stored.Metadata.Approved())

		alerts := monitor.ListAlerts()
		require.Len(t, alerts, 1)
		assert.Equal(t, blackboard.AlertTypeUnauthorizedApproval, alerts[0].Type)
	})

	t.Run("non-approval edits by anyone are accepted", func(t *testing.T) {
		guard, client, _ := setupGuard(t)
		task, err := client.GetTask(ctx, "t1")
		require.NoError(t, err)

		task.Title = "fix flaky deploy script"
		require.NoError(t, guard.UpdateTask(ctx, "alice", task, ""))
		assert.Empty(t, guard.ledger.GetAuditForTask("t1"))
	})

	t.Run("repeated approval toggles raise a flip alert", func(t *testing.T) {
		guard, client, monitor := setupGuard(t)
		for _, approved := range []bool{true, false, true} {
			task, err := client.GetTask(ctx, "t1")
			require.NoError(t, err)
			task.Metadata.ReviewerApproved = blackboard.BoolPtr(approved)
			require.NoError(t, guard.UpdateTask(ctx, "rita", task, ""))
		}

		alerts := monitor.ListAlerts()
		require.Len(t, alerts, 1)
		assert.Equal(t, blackboard.AlertTypeFlipAttempt, alerts[0].Type)
		assert.Equal(t, 2, alerts[0].Flips)
	})

	t.Run("missing task", func(t *testing.T) {
		guard, _, _ := setupGuard(t)
		err := guard.UpdateTask(ctx, "rita", &blackboard.Task{ID: "nope", Title: "x", Status: blackboard.TaskStatusTodo}, "")
		assert.True(t, blackboard.IsNotFound(err))
	})
}

func TestGuardedBoardUpdateTaskUsesStoredReviewer(t *testing.T) {
	ctx := context.Background()
	guard, client, monitor := setupGuard(t)

	stale, err := client.GetTask(ctx, "t1")
	require.NoError(t, err)

	reassigned, err := client.GetTask(ctx, "t1")
	require.NoError(t, err)
	reassigned.Reviewer = "sam"
	require.NoError(t, guard.UpdateTask(ctx, "alice", reassigned, "hand over review"))

	stale.Metadata.ReviewerApproved = blackboard.BoolPtr(true)
	stale.Metadata.ApprovedBy = "rita"
	err = guard.UpdateTask(ctx, "rita", stale, "")

	var unauthorized *UnauthorizedApprovalError
	require.True(t, errors.As(err, &unauthorized))
	assert.Equal(t, "sam", unauthorized.ExpectedReviewer)

	stored, err := client.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "sam", stored.Reviewer)
	assert.False(t, stored.Metadata.Approved())
	require.Len(t, monitor.ListAlerts(), 1)
}

func TestGuardedBoardCreateTask(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		actor      string
		reviewer   string
		approved   bool
		approvedBy string
		wantErr    bool
	}{
		{name: "unapproved task by anyone", actor: "alice", reviewer: "rita"},
		{name: "reviewer creates approved task", actor: "rita", reviewer: "rita", approved: true, approvedBy: "rita"},
		{name: "self-approval under another reviewer", actor: "mallory", reviewer: "alice", approved: true, approvedBy: "mallory", wantErr: true},
		{name: "approved_by alone under another reviewer", actor: "mallory", reviewer: "alice", approvedBy: "mallory", wantErr: true},
		{name: "approval without a reviewer", actor: "mallory", approved: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard, client, monitor := setupGuard(t)
			task := &blackboard.Task{
				ID:       "t2",
				Title:    "rotate credentials",
				Status:   blackboard.TaskStatusReview,
				Reviewer: tt.reviewer,
				Metadata: blackboard.Metadata{ApprovedBy: tt.approvedBy},
			}
			if tt.approved {
				task.Metadata.ReviewerApproved = blackboard.BoolPtr(true)
			}

			err := guard.CreateTask(ctx, tt.actor, task, "task created")
			if !tt.wantErr {
				require.NoError(t, err)
				_, err = client.GetTask(ctx, "t2")
				require.NoError(t, err)
				assert.Empty(t, monitor.ListAlerts())
				return
			}

			var unauthorized *UnauthorizedApprovalError
			require.True(t, errors.As(err, &unauthorized))
			assert.Equal(t, tt.actor, unauthorized.Actor)

			_, err = client.GetTask(ctx, "t2")
			assert.True(t, blackboard.IsNotFound(err))
			assert.Empty(t, guard.ledger.GetAuditForTask("t2"))

			alerts := monitor.ListAlerts()
			require.Len(t, alerts, 1)
			assert.Equal(t, blackboard.AlertTypeUnauthorizedApproval, alerts[0].Type)
			assert.Equal(t, "t2", alerts[0].TaskID)
		})
	}
}
