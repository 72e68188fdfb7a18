package blackboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReflection(id, hash string) *Reflection {
	return &Reflection{
		ID:          id,
		Author:      "alice",
		Confidence:  7,
		Pain:        "ci is flaky",
		Severity:    SeverityHigh,
		Tags:        []string{"stage:build"},
		Evidence:    []string{"run/1"},
		ContentHash: hash,
		CreatedAtMs: 1000,
	}
}

func TestSaveReflection(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	t.Run("persists and reads back", func(t *testing.T) {
		r := newReflection("r1", "hash-1")
		require.NoError(t, client.SaveReflection(ctx, r, time.Hour))

		got, err := client.GetReflection(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, r, got)
	})

	t.Run("rejects the same content hash inside the window", func(t *testing.T) {
		err := client.SaveReflection(ctx, newReflection("r2", "hash-1"), time.Hour)
		assert.ErrorIs(t, err, ErrDuplicateContent)

		owner, err := client.DuplicateOf(ctx, "hash-1")
		require.NoError(t, err)
		assert.Equal(t, "r1", owner)
	})

	t.Run("accepts the same content hash after the window", func(t *testing.T) {
		mr.FastForward(2 * time.Hour)
		assert.NoError(t, client.SaveReflection(ctx, newReflection("r3", "hash-1"), time.Hour))
	})

	t.Run("requires ID and hash", func(t *testing.T) {
		assert.Error(t, client.SaveReflection(ctx, &Reflection{ID: "x"}, time.Hour))
	})

	t.Run("missing reflection is not found", func(t *testing.T) {
		_, err := client.GetReflection(ctx, "missing")
		assert.True(t, IsNotFound(err))
	})
}

func TestDiscardReflection(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("releases the claim so the content can be saved again", func(t *testing.T) {
		r := newReflection("r1", "hash-1")
		require.NoError(t, client.SaveReflection(ctx, r, time.Hour))
		require.NoError(t, client.DiscardReflection(ctx, r))

		_, err := client.GetReflection(ctx, "r1")
		assert.True(t, IsNotFound(err))
		assert.NoError(t, client.SaveReflection(ctx, newReflection("r2", "hash-1"), time.Hour))
	})

	t.Run("keeps a claim held by another reflection", func(t *testing.T) {
		require.NoError(t, client.DiscardReflection(ctx, newReflection("stale", "hash-1")))

		owner, err := client.DuplicateOf(ctx, "hash-1")
		require.NoError(t, err)
		assert.Equal(t, "r2", owner)
	})
}

func TestUpsertInsight(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	key := "build::flaky::ci"
	id := InsightID(key)

	create := func(existing *Insight) (*Insight, error) {
		if existing != nil {
			next := *existing
			next.IndependentCount++
			return &next, nil
		}
		return &Insight{ID: id, ClusterKey: key, Status: InsightStatusCandidate, IndependentCount: 1, CreatedAtMs: 5}, nil
	}

	t.Run("creates when absent", func(t *testing.T) {
		ins, err := client.UpsertInsight(ctx, id, create)
		require.NoError(t, err)
		assert.Equal(t, 1, ins.IndependentCount)

		ids, err := client.ListInsightIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{id}, ids)
	})

	t.Run("merges when present", func(t *testing.T) {
		ins, err := client.UpsertInsight(ctx, id, create)
		require.NoError(t, err)
		assert.Equal(t, 2, ins.IndependentCount)

		stored, err := client.GetInsight(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, stored.IndependentCount)
	})

	t.Run("nil result leaves the insight untouched", func(t *testing.T) {
		ins, err := client.UpsertInsight(ctx, id, func(*Insight) (*Insight, error) { return nil, nil })
		require.NoError(t, err)
		assert.Equal(t, 2, ins.IndependentCount)
	})

	t.Run("mutator errors propagate without writing", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := client.UpsertInsight(ctx, id, func(*Insight) (*Insight, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("rejects invalid insights", func(t *testing.T) {
		_, err := client.UpsertInsight(ctx, id, func(e *Insight) (*Insight, error) {
			next := *e
			next.Status = "bogus"
			return &next, nil
		})
		assert.Error(t, err)
	})

	t.Run("rejects ID changes", func(t *testing.T) {
		_, err := client.UpsertInsight(ctx, id, func(e *Insight) (*Insight, error) {
			next := *e
			next.ID = InsightID("other")
			return &next, nil
		})
		assert.Error(t, err)
	})

	t.Run("concurrent merges are not lost", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := client.UpsertInsight(ctx, id, create)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		stored, err := client.GetInsight(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 10, stored.IndependentCount)
	})
}

func TestListInsights(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	for i, key := range []string{"b::b::b", "a::a::a"} {
		id := InsightID(key)
		createdAt := int64(100 - i)
		_, err := client.UpsertInsight(ctx, id, func(*Insight) (*Insight, error) {
			return &Insight{ID: id, ClusterKey: key, Status: InsightStatusCandidate, CreatedAtMs: createdAt}, nil
		})
		require.NoError(t, err)
	}

	// A corrupt hash must not hide the others
	mr.HSet(InsightKey("test-instance", "broken"), "independent_count", "NaN")
	mr.SAdd(InsightIndexKey("test-instance"), "broken")

	insights, err := client.ListInsights(ctx)
	require.NoError(t, err)
	require.Len(t, insights, 2)
	assert.Equal(t, "a::a::a", insights[0].ClusterKey)
	assert.Equal(t, "b::b::b", insights[1].ClusterKey)
}

func TestPipelineActivity(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	ms, err := client.LastActivity(ctx)
	require.NoError(t, err)
	assert.Zero(t, ms)

	require.NoError(t, client.TouchActivity(ctx, 4242))
	ms, err = client.LastActivity(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4242), ms)
}
