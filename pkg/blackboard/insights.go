package blackboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDuplicateContent is returned by SaveReflection when the same content hash
// was already recorded inside the dedup window.
var ErrDuplicateContent = errors.New("blackboard: duplicate reflection content")

// SaveReflection persists an immutable reflection. The content hash is claimed
// with SET NX PX so that two concurrent ingests of the same content cannot both
// succeed; the claim expires with the dedup window.
func (c *Client) SaveReflection(ctx context.Context, r *Reflection, dedupWindow time.Duration) error {
	if r.ID == "" || r.ContentHash == "" {
		return fmt.Errorf("reflection must have an ID and content hash")
	}

	hashKey := ReflectionHashKey(c.instanceName, r.ContentHash)
	claimed, err := c.rdb.SetNX(ctx, hashKey, r.ID, dedupWindow).Result()
	if err != nil {
		return fmt.Errorf("failed to claim reflection content hash: %w", err)
	}
	if !claimed {
		return ErrDuplicateContent
	}

	hash, err := ReflectionToHash(r)
	if err != nil {
		c.rdb.Del(ctx, hashKey)
		return fmt.Errorf("failed to serialize reflection: %w", err)
	}

	if err := c.rdb.HSet(ctx, ReflectionKey(c.instanceName, r.ID), hash).Err(); err != nil {
		// Release the claim so a retry is not rejected as a duplicate
		c.rdb.Del(ctx, hashKey)
		return fmt.Errorf("failed to write reflection to Redis: %w", err)
	}

	return nil
}

// discardScript drops a reflection and releases its content hash claim, but
// only if the claim still belongs to that reflection.
var discardScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1])
end
redis.call('DEL', KEYS[2])
return 1
`)

// DiscardReflection undoes SaveReflection for a reflection that could not be
// merged, so the same content can be ingested again.
func (c *Client) DiscardReflection(ctx context.Context, r *Reflection) error {
	keys := []string{ReflectionHashKey(c.instanceName, r.ContentHash), ReflectionKey(c.instanceName, r.ID)}
	if err := discardScript.Run(ctx, c.rdb, keys, r.ID).Err(); err != nil {
		return fmt.Errorf("failed to discard reflection: %w", err)
	}
	return nil
}

// DuplicateOf returns the ID of the reflection that holds a content hash claim.
// Returns redis.Nil if no claim is live.
func (c *Client) DuplicateOf(ctx context.Context, contentHash string) (string, error) {
	return c.rdb.Get(ctx, ReflectionHashKey(c.instanceName, contentHash)).Result()
}

// GetReflection retrieves a reflection by ID.
// Returns (nil, redis.Nil) if the reflection doesn't exist.
func (c *Client) GetReflection(ctx context.Context, reflectionID string) (*Reflection, error) {
	hashData, err := c.rdb.HGetAll(ctx, ReflectionKey(c.instanceName, reflectionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read reflection from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	r, err := HashToReflection(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize reflection: %w", err)
	}
	return r, nil
}

// InsightMutator receives the current insight (nil when absent) and returns the
// insight to store. Returning (nil, nil) leaves Redis untouched.
type InsightMutator func(existing *Insight) (*Insight, error)

// UpsertInsight atomically creates or updates the insight stored under id.
// The mutator may run more than once when concurrent writers collide; it must
// be a pure function of its input.
//
// Returns the stored insight, or the unchanged existing one when the mutator
// declined to write.
func (c *Client) UpsertInsight(ctx context.Context, id string, mutate InsightMutator) (*Insight, error) {
	key := InsightKey(c.instanceName, id)
	var result *Insight

	err := c.watchRetry(ctx, func(tx *redis.Tx) error {
		hashData, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read insight from Redis: %w", err)
		}

		var existing *Insight
		if len(hashData) > 0 {
			existing, err = HashToInsight(hashData)
			if err != nil {
				return fmt.Errorf("failed to deserialize insight: %w", err)
			}
		}

		next, err := mutate(existing)
		if err != nil {
			return err
		}
		if next == nil {
			result = existing
			return nil
		}
		if next.ID != id {
			return fmt.Errorf("mutator changed insight ID from %s to %s", id, next.ID)
		}
		if err := next.Validate(); err != nil {
			return fmt.Errorf("invalid insight: %w", err)
		}

		hash, err := InsightToHash(next)
		if err != nil {
			return fmt.Errorf("failed to serialize insight: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, hash)
			pipe.SAdd(ctx, InsightIndexKey(c.instanceName), id)
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetInsight retrieves an insight by ID.
// Returns (nil, redis.Nil) if the insight doesn't exist.
func (c *Client) GetInsight(ctx context.Context, insightID string) (*Insight, error) {
	hashData, err := c.rdb.HGetAll(ctx, InsightKey(c.instanceName, insightID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read insight from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	ins, err := HashToInsight(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize insight: %w", err)
	}
	return ins, nil
}

// ListInsightIDs returns every insight ID in sorted order.
func (c *Client) ListInsightIDs(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, InsightIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read insight index: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListInsights returns every insight ordered by creation time.
// Malformed or vanished entries are skipped so one bad hash cannot hide the rest.
func (c *Client) ListInsights(ctx context.Context) ([]*Insight, error) {
	ids, err := c.ListInsightIDs(ctx)
	if err != nil {
		return nil, err
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, InsightKey(c.instanceName, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read insights from Redis: %w", err)
	}

	insights := make([]*Insight, 0, len(ids))
	for _, cmd := range cmds {
		hashData, err := cmd.Result()
		if err != nil || len(hashData) == 0 {
			continue
		}
		ins, err := HashToInsight(hashData)
		if err != nil {
			continue
		}
		insights = append(insights, ins)
	}

	sort.SliceStable(insights, func(i, j int) bool {
		if insights[i].CreatedAtMs != insights[j].CreatedAtMs {
			return insights[i].CreatedAtMs < insights[j].CreatedAtMs
		}
		return insights[i].ID < insights[j].ID
	})
	return insights, nil
}

// TouchActivity records the last time the pipeline ingested anything.
func (c *Client) TouchActivity(ctx context.Context, nowMs int64) error {
	if err := c.rdb.Set(ctx, KVKey(c.instanceName, "pipeline_activity"), nowMs, 0).Err(); err != nil {
		return fmt.Errorf("failed to record pipeline activity: %w", err)
	}
	return nil
}

// LastActivity returns the last pipeline activity stamp, or 0 if none.
func (c *Client) LastActivity(ctx context.Context) (int64, error) {
	raw, err := c.rdb.Get(ctx, KVKey(c.instanceName, "pipeline_activity")).Result()
	if IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read pipeline activity: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid pipeline activity value: %w", err)
	}
	return ms, nil
}
