package blackboard

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// checkScript is the ledger's create-or-refresh. A live entry (last seen inside
// the window) is bumped; anything else is reset to a fresh entry.
//
// KEYS[1] entry hash, KEYS[2] index set
// ARGV: now_ms, window_ms, category, channel, dedup_key
// Returns {duplicate, hit_count, first_seen_at_ms, last_seen_at_ms}
var checkScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local last = redis.call('HGET', KEYS[1], 'last_seen_at_ms')
if last and (now - tonumber(last)) < window then
  local hits = redis.call('HINCRBY', KEYS[1], 'hit_count', 1)
  redis.call('HSET', KEYS[1], 'last_seen_at_ms', ARGV[1])
  local first = tonumber(redis.call('HGET', KEYS[1], 'first_seen_at_ms'))
  return {1, hits, first, now}
end
redis.call('HSET', KEYS[1], 'category', ARGV[3], 'channel', ARGV[4], 'hit_count', 1, 'first_seen_at_ms', ARGV[1], 'last_seen_at_ms', ARGV[1])
redis.call('SADD', KEYS[2], ARGV[5])
return {0, 1, now, now}
`)

// pruneScript deletes one entry if it has aged out of the window.
//
// KEYS[1] entry hash, KEYS[2] index set
// ARGV: now_ms, window_ms, dedup_key
var pruneScript = redis.NewScript(`
local last = redis.call('HGET', KEYS[1], 'last_seen_at_ms')
if (not last) or (tonumber(ARGV[1]) - tonumber(last)) >= tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
  redis.call('SREM', KEYS[2], ARGV[3])
  return 1
end
return 0
`)

// releaseScript deletes an entry only if it is still the one first seen at
// ARGV[1].
//
// KEYS[1] entry hash, KEYS[2] index set
// ARGV: first_seen_at_ms, dedup_key
var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'first_seen_at_ms') == ARGV[1] then
  redis.call('DEL', KEYS[1])
  redis.call('SREM', KEYS[2], ARGV[2])
  return 1
end
return 0
`)

// CheckSuppression atomically records a sighting of dedupKey and reports whether
// it falls inside the window of a previous sighting.
func (c *Client) CheckSuppression(ctx context.Context, dedupKey, category, channel string, nowMs, windowMs int64) (*SuppressionEntry, bool, error) {
	keys := []string{SuppressionKey(c.instanceName, dedupKey), SuppressionIndexKey(c.instanceName)}
	raw, err := checkScript.Run(ctx, c.rdb, keys, nowMs, windowMs, category, channel, dedupKey).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("failed to run suppression check: %w", err)
	}
	if len(raw) != 4 {
		return nil, false, fmt.Errorf("unexpected suppression check reply: %v", raw)
	}

	vals := make([]int64, 4)
	for i, v := range raw {
		n, ok := v.(int64)
		if !ok {
			return nil, false, fmt.Errorf("unexpected suppression check value %v", v)
		}
		vals[i] = n
	}

	return &SuppressionEntry{
		DedupKey:      dedupKey,
		Category:      category,
		Channel:       channel,
		HitCount:      vals[1],
		FirstSeenAtMs: vals[2],
		LastSeenAtMs:  vals[3],
	}, vals[0] == 1, nil
}

// ReleaseSuppression removes the entry for dedupKey if it still records the
// sighting first seen at firstSeenMs. Reports whether it was removed.
func (c *Client) ReleaseSuppression(ctx context.Context, dedupKey string, firstSeenMs int64) (bool, error) {
	n, err := releaseScript.Run(ctx, c.rdb,
		[]string{SuppressionKey(c.instanceName, dedupKey), SuppressionIndexKey(c.instanceName)},
		strconv.FormatInt(firstSeenMs, 10), dedupKey).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release suppression entry %s: %w", dedupKey, err)
	}
	return n == 1, nil
}

// GetSuppressionEntry reads one ledger entry. Returns redis.Nil if absent.
func (c *Client) GetSuppressionEntry(ctx context.Context, dedupKey string) (*SuppressionEntry, error) {
	hashData, err := c.rdb.HGetAll(ctx, SuppressionKey(c.instanceName, dedupKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read suppression entry: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return HashToSuppressionEntry(dedupKey, hashData)
}

// ListSuppressionEntries returns every ledger entry sorted by dedup key.
func (c *Client) ListSuppressionEntries(ctx context.Context) ([]*SuppressionEntry, error) {
	keys, err := c.rdb.SMembers(ctx, SuppressionIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read suppression index: %w", err)
	}
	sort.Strings(keys)

	entries := make([]*SuppressionEntry, 0, len(keys))
	for _, k := range keys {
		entry, err := c.GetSuppressionEntry(ctx, k)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// PruneSuppression deletes entries whose last sighting is older than the window.
// Returns the number removed.
func (c *Client) PruneSuppression(ctx context.Context, nowMs, windowMs int64) (int, error) {
	keys, err := c.rdb.SMembers(ctx, SuppressionIndexKey(c.instanceName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read suppression index: %w", err)
	}

	removed := 0
	for _, k := range keys {
		n, err := pruneScript.Run(ctx, c.rdb,
			[]string{SuppressionKey(c.instanceName, k), SuppressionIndexKey(c.instanceName)},
			nowMs, windowMs, k).Int()
		if err != nil {
			return removed, fmt.Errorf("failed to prune suppression entry %s: %w", k, err)
		}
		removed += n
	}
	return removed, nil
}
