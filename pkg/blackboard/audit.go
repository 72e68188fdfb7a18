package blackboard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// AuditStream is a durable append-only audit log backed by a Redis stream.
type AuditStream struct {
	client *Client
	maxLen int64
}

// AuditStream returns the instance's audit stream. maxLen caps the stream
// approximately; zero keeps everything.
func (c *Client) AuditStream(maxLen int64) *AuditStream {
	return &AuditStream{client: c, maxLen: maxLen}
}

// Append adds one entry to the stream.
func (s *AuditStream) Append(ctx context.Context, entry AuditEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: AuditStreamKey(s.client.instanceName),
		Values: map[string]interface{}{"entry": string(payload)},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Load replays the stream in write order. Entries that fail to decode are
// skipped and counted.
func (s *AuditStream) Load(ctx context.Context) ([]AuditEntry, int, error) {
	msgs, err := s.client.rdb.XRange(ctx, AuditStreamKey(s.client.instanceName), "-", "+").Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read audit stream: %w", err)
	}

	entries := make([]AuditEntry, 0, len(msgs))
	skipped := 0
	for _, msg := range msgs {
		raw, ok := msg.Values["entry"].(string)
		if !ok {
			skipped++
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	return entries, skipped, nil
}
