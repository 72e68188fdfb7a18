package assign

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/rs/zerolog"
)

// CompletionWindow is how far back completed tasks count toward throughput.
const CompletionWindow = 24 * time.Hour

// TaskLister is the read side of the task board.
type TaskLister interface {
	ListTasks(ctx context.Context, filter blackboard.TaskFilter) ([]*blackboard.Task, error)
}

// Load is one agent's current workload.
type Load struct {
	Wip               int // todo + doing
	RecentCompletions int
}

// Router feeds live board state into SuggestAssignee.
type Router struct {
	board  TaskLister
	agents []Agent
	now    func() time.Time
	logger zerolog.Logger
}

// NewRouter creates a router over the given registry.
func NewRouter(board TaskLister, agents []Agent, logger zerolog.Logger) *Router {
	return &Router{board: board, agents: agents, now: time.Now, logger: logger}
}

// Agents returns the registry.
func (r *Router) Agents() []Agent {
	return r.agents
}

// Agent looks up a registry entry by name.
func (r *Router) Agent(name string) (Agent, bool) {
	for _, a := range r.agents {
		if a.Name == name {
			return a, true
		}
	}
	return Agent{}, false
}

// Workload computes the load of every registered agent.
func (r *Router) Workload(ctx context.Context) (map[string]Load, error) {
	tasks, err := r.board.ListTasks(ctx, blackboard.TaskFilter{
		Statuses: []blackboard.TaskStatus{blackboard.TaskStatusTodo, blackboard.TaskStatusDoing, blackboard.TaskStatusDone},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	since := r.now().Add(-CompletionWindow).UnixMilli()
	loads := make(map[string]Load, len(r.agents))
	for _, a := range r.agents {
		loads[a.Name] = Load{}
	}
	for _, t := range tasks {
		l, ok := loads[t.Assignee]
		if !ok {
			continue
		}
		switch t.Status {
		case blackboard.TaskStatusTodo, blackboard.TaskStatusDoing:
			l.Wip++
		case blackboard.TaskStatusDone:
			if t.UpdatedAtMs >= since {
				l.RecentCompletions++
			}
		}
		loads[t.Assignee] = l
	}
	return loads, nil
}

// Candidates pairs every registered agent with its current load.
func (r *Router) Candidates(ctx context.Context) ([]Candidate, error) {
	loads, err := r.Workload(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(r.agents))
	for _, a := range r.agents {
		l := loads[a.Name]
		out = append(out, Candidate{Agent: a, CurrentWip: l.Wip, RecentCompletions: l.RecentCompletions})
	}
	return out, nil
}

// Suggest picks an assignee for task from live board state.
func (r *Router) Suggest(ctx context.Context, task *blackboard.Task, override string) (Suggestion, error) {
	candidates, err := r.Candidates(ctx)
	if err != nil {
		return Suggestion{}, err
	}
	s := SuggestAssignee(task, candidates, override)
	r.logger.Debug().
		Str("event_type", "assignee_suggested").
		Str("task_id", task.ID).
		Str("agent", s.Agent).
		Str("reason", s.Reason).
		Msg("suggested assignee")
	return s, nil
}
