package suppression

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases and collapses whitespace", "  Agent   IDLE\n\tagain ", "agent idle again"},
		{"epoch seconds", "queue empty at 1697000000", "queue empty at <ts>"},
		{"epoch millis", "queue empty at 1697000000123", "queue empty at <ts>"},
		{"rfc3339", "seen 2026-10-14T09:15:00Z", "seen <ts>"},
		{"rfc3339 with offset and fraction", "seen 2026-10-14T09:15:00.123+02:00 ok", "seen <ts> ok"},
		{"generated task id", "task-1697000000-ab12 stalled", "<task> stalled"},
		{"underscore task id", "retry task_9f8e7d", "retry <task>"},
		{"uuid", "insight 6f1c2a9e-3b7d-4e58-9a41-0c2d7e8b5f13 promoted", "insight <id> promoted"},
		{"short numbers survive", "3 agents idle for 45 minutes", "3 agents idle for 45 minutes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestDedupKey(t *testing.T) {
	t.Run("differs only in volatile parts yields the same key", func(t *testing.T) {
		a := DedupKey("continuity", "ops", "Agent sweeper starved at 1697000000 (task-1697000000-aa)")
		b := DedupKey("continuity", "ops", "agent sweeper  starved at 1697000999 (task-1697000999-bb)")
		assert.Equal(t, a, b)
	})

	t.Run("category and channel are part of the key", func(t *testing.T) {
		base := DedupKey("continuity", "ops", "x")
		assert.NotEqual(t, base, DedupKey("audit", "ops", "x"))
		assert.NotEqual(t, base, DedupKey("continuity", "dev", "x"))
	})

	t.Run("different content yields different keys", func(t *testing.T) {
		assert.NotEqual(t, DedupKey("c", "ch", "agent a idle"), DedupKey("c", "ch", "agent b idle"))
	})

	t.Run("is hex sha256", func(t *testing.T) {
		assert.Len(t, DedupKey("c", "ch", "x"), 64)
	})
}
