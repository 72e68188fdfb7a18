package blackboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SetJSON stores v under name in the instance KV namespace, replacing any
// previous value in a single write.
func (c *Client) SetJSON(ctx context.Context, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	if err := c.rdb.Set(ctx, KVKey(c.instanceName, name), payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// GetJSON decodes the value stored under name into out.
// Returns redis.Nil if nothing is stored.
func (c *Client) GetJSON(ctx context.Context, name string, out any) error {
	payload, err := c.rdb.Get(ctx, KVKey(c.instanceName, name)).Bytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return nil
}

// DeleteKV removes a KV entry. Missing entries are not an error.
func (c *Client) DeleteKV(ctx context.Context, name string) error {
	if err := c.rdb.Del(ctx, KVKey(c.instanceName, name)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

// AcquireThrottle returns true the first time it is called for name within
// window, and false for every call until the window lapses. window must be
// positive; a throttle without expiry would never reopen.
func (c *Client) AcquireThrottle(ctx context.Context, name string, window time.Duration) (bool, error) {
	if window <= 0 {
		return false, fmt.Errorf("throttle %s: window must be positive, got %v", name, window)
	}
	ok, err := c.rdb.SetNX(ctx, ThrottleKey(c.instanceName, name), time.Now().UnixMilli(), window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire throttle %s: %w", name, err)
	}
	return ok, nil
}
