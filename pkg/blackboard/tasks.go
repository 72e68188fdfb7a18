package blackboard

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrTaskExists is returned by CreateTask when the ID is already taken.
	ErrTaskExists = errors.New("blackboard: task already exists")

	// ErrTaskAlreadyAssigned is returned by ClaimTask when someone got there first.
	ErrTaskAlreadyAssigned = errors.New("blackboard: task already assigned")
)

// CreateTask writes a new task. Creating an ID that already exists fails with
// ErrTaskExists, which makes retries with a stable ID idempotent.
func (c *Client) CreateTask(ctx context.Context, t *Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	hash, err := TaskToHash(t)
	if err != nil {
		return fmt.Errorf("failed to serialize task: %w", err)
	}

	key := TaskKey(c.instanceName, t.ID)
	return c.watchRetry(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to check task existence: %w", err)
		}
		if exists > 0 {
			return ErrTaskExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, hash)
			pipe.SAdd(ctx, TaskIndexKey(c.instanceName), t.ID)
			return nil
		})
		return err
	}, key)
}

// GetTask retrieves a task by ID.
// Returns (nil, redis.Nil) if the task doesn't exist.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	hashData, err := c.rdb.HGetAll(ctx, TaskKey(c.instanceName, taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read task from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	t, err := HashToTask(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize task: %w", err)
	}
	return t, nil
}

// ListTasks returns the tasks matching filter, ordered by creation time.
// Malformed entries are skipped.
func (c *Client) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	ids, err := c.rdb.SMembers(ctx, TaskIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read task index: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, TaskKey(c.instanceName, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks from Redis: %w", err)
	}

	tasks := make([]*Task, 0, len(ids))
	for _, cmd := range cmds {
		hashData, err := cmd.Result()
		if err != nil || len(hashData) == 0 {
			continue
		}
		t, err := HashToTask(hashData)
		if err != nil {
			continue
		}
		if filter.Matches(t) {
			tasks = append(tasks, t)
		}
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].CreatedAtMs != tasks[j].CreatedAtMs {
			return tasks[i].CreatedAtMs < tasks[j].CreatedAtMs
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

// UpdateTask replaces an existing task. Returns redis.Nil if the task is gone.
func (c *Client) UpdateTask(ctx context.Context, t *Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	hash, err := TaskToHash(t)
	if err != nil {
		return fmt.Errorf("failed to serialize task: %w", err)
	}

	key := TaskKey(c.instanceName, t.ID)
	return c.watchRetry(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to check task existence: %w", err)
		}
		if exists == 0 {
			return redis.Nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, hash)
			return nil
		})
		return err
	}, key)
}

// UpdateTaskIf replaces an existing task after check accepts the stored
// version. check runs inside the WATCH transaction, so it sees the value that
// is overwritten; it may run more than once when writers race. An error from
// check aborts the write and is returned unchanged. Returns redis.Nil if the
// task is gone.
func (c *Client) UpdateTaskIf(ctx context.Context, t *Task, check func(current *Task) error) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	key := TaskKey(c.instanceName, t.ID)
	return c.watchRetry(ctx, func(tx *redis.Tx) error {
		hashData, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read task from Redis: %w", err)
		}
		if len(hashData) == 0 {
			return redis.Nil
		}
		current, err := HashToTask(hashData)
		if err != nil {
			return fmt.Errorf("failed to deserialize task: %w", err)
		}
		if err := check(current); err != nil {
			return err
		}

		hash, err := TaskToHash(t)
		if err != nil {
			return fmt.Errorf("failed to serialize task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, hash)
			return nil
		})
		return err
	}, key)
}

// DeleteTask removes a task and its index entry. Deleting a missing task is a no-op.
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, TaskKey(c.instanceName, taskID))
		pipe.SRem(ctx, TaskIndexKey(c.instanceName), taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// ClaimTask assigns an unassigned task to assignee and moves it to status.
// Fails with ErrTaskAlreadyAssigned if the task gained an assignee first.
func (c *Client) ClaimTask(ctx context.Context, taskID, assignee string, status TaskStatus, nowMs int64) (*Task, error) {
	key := TaskKey(c.instanceName, taskID)
	var claimed *Task

	err := c.watchRetry(ctx, func(tx *redis.Tx) error {
		hashData, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read task from Redis: %w", err)
		}
		if len(hashData) == 0 {
			return redis.Nil
		}
		t, err := HashToTask(hashData)
		if err != nil {
			return fmt.Errorf("failed to deserialize task: %w", err)
		}
		if t.Assignee != "" {
			return ErrTaskAlreadyAssigned
		}

		t.Assignee = assignee
		t.Status = status
		t.UpdatedAtMs = nowMs
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "assignee", t.Assignee, "status", string(t.Status), "updated_at_ms", t.UpdatedAtMs)
			return nil
		})
		if err != nil {
			return err
		}
		claimed = t
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ClaimInsightTask reserves task creation for an insight. The first caller's
// taskID wins; every caller gets back the winning ID and whether it was theirs.
func (c *Client) ClaimInsightTask(ctx context.Context, insightID, taskID string) (string, bool, error) {
	key := TaskByInsightKey(c.instanceName, insightID)
	won, err := c.rdb.SetNX(ctx, key, taskID, 0).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to claim insight task: %w", err)
	}
	if won {
		return taskID, true, nil
	}

	owner, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to read insight task claim: %w", err)
	}
	return owner, false, nil
}
