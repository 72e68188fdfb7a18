package blackboard

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestInsightID(t *testing.T) {
	t.Run("is deterministic per cluster key", func(t *testing.T) {
		assert.Equal(t, InsightID("build::flaky::ci"), InsightID("build::flaky::ci"))
	})

	t.Run("differs across cluster keys", func(t *testing.T) {
		assert.NotEqual(t, InsightID("build::flaky::ci"), InsightID("build::flaky::cd"))
	})

	t.Run("is a valid UUID", func(t *testing.T) {
		_, err := uuid.Parse(InsightID("x::y::z"))
		assert.NoError(t, err)
	})
}

func TestSeverity(t *testing.T) {
	t.Run("ranks in order", func(t *testing.T) {
		assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
		assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
		assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
	})

	t.Run("max keeps the higher severity", func(t *testing.T) {
		assert.Equal(t, SeverityHigh, MaxSeverity(SeverityLow, SeverityHigh))
		assert.Equal(t, SeverityCritical, MaxSeverity(SeverityCritical, SeverityMedium))
		assert.Equal(t, SeverityLow, MaxSeverity("", SeverityLow))
	})

	t.Run("rejects unknown values", func(t *testing.T) {
		assert.Error(t, Severity("urgent").Validate())
		assert.NoError(t, SeverityMedium.Validate())
	})
}

func TestInsightStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to InsightStatus
		allowed  bool
	}{
		{InsightStatusCandidate, InsightStatusPromoted, true},
		{InsightStatusCandidate, InsightStatusTaskCreated, false},
		{InsightStatusPromoted, InsightStatusTaskCreated, true},
		{InsightStatusPromoted, InsightStatusPendingTriage, true},
		{InsightStatusPendingTriage, InsightStatusTaskCreated, true},
		{InsightStatusTaskCreated, InsightStatusPromoted, false},
		{InsightStatusTaskCreated, InsightStatusTaskCreated, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestInsightValidate(t *testing.T) {
	valid := func() *Insight {
		return &Insight{
			ID:         InsightID("a::b::c"),
			ClusterKey: "a::b::c",
			Status:     InsightStatusCandidate,
		}
	}

	t.Run("accepts a valid insight", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects a non-UUID ID", func(t *testing.T) {
		i := valid()
		i.ID = "nope"
		assert.Error(t, i.Validate())
	})

	t.Run("rejects task_created without a task", func(t *testing.T) {
		i := valid()
		i.Status = InsightStatusTaskCreated
		assert.Error(t, i.Validate())
		i.TaskID = "task-1"
		assert.NoError(t, i.Validate())
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		i := valid()
		i.Status = "addressed"
		assert.Error(t, i.Validate())
	})
}

func TestCooldownActive(t *testing.T) {
	i := &Insight{CooldownUntilMs: 1000}
	assert.True(t, i.CooldownActive(999))
	assert.False(t, i.CooldownActive(1000))
	assert.False(t, (&Insight{}).CooldownActive(1))
}

func TestTaskFilter(t *testing.T) {
	task := &Task{
		ID:       "t1",
		Title:    "x",
		Status:   TaskStatusTodo,
		Assignee: "alice",
		Metadata: Metadata{SourceInsight: "ins-1"},
	}

	tests := []struct {
		name   string
		filter TaskFilter
		match  bool
	}{
		{"empty filter matches", TaskFilter{}, true},
		{"status match", TaskFilter{Statuses: []TaskStatus{TaskStatusDoing, TaskStatusTodo}}, true},
		{"status mismatch", TaskFilter{Statuses: []TaskStatus{TaskStatusDone}}, false},
		{"assignee match", TaskFilter{Assignee: "alice"}, true},
		{"assignee mismatch", TaskFilter{Assignee: "bob"}, false},
		{"unassigned excludes assigned", TaskFilter{Unassigned: true}, false},
		{"source insight match", TaskFilter{SourceInsight: "ins-1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, tt.filter.Matches(task))
		})
	}
}

func TestTaskClone(t *testing.T) {
	orig := &Task{ID: "t", Title: "x", Status: TaskStatusTodo, Tags: []string{"a"},
		Metadata: Metadata{ReviewerApproved: BoolPtr(false)}}
	c := orig.Clone()
	c.Tags[0] = "b"
	*c.Metadata.ReviewerApproved = true

	assert.Equal(t, "a", orig.Tags[0])
	assert.False(t, *orig.Metadata.ReviewerApproved)
}
