// Package blackboard provides type-safe Go definitions and the Redis schema for
// the Warren continuity pipeline.
//
// # Overview
//
// The blackboard is the single shared store behind every Warren component. The
// insight store, the task bridge, the continuity loop, the suppression ledger and
// the audit ledger all read and write the structures defined here, and they rely
// on the atomic operations of Client for correctness instead of in-process locks.
//
// # Core Concepts
//
// Reflections are immutable postmortems filed by agents. Each carries a
// content hash over its normalized author and pain so duplicates can be rejected
// inside a dedup window.
//
// Insights are mutable aggregates of reflections that share a cluster key
// (stage::family::unit). An insight's ID is derived from its cluster key, so a
// cluster key maps to at most one insight.
//
// Tasks are work items on the board. Tasks created from insights carry their
// provenance in Metadata.
//
// Suppression entries and audit entries back the two ledgers that keep alerts
// unique and sensitive mutations traceable.
//
// # Usage Example
//
//	client, err := blackboard.NewClient(&redis.Options{Addr: "localhost:6379"}, "default-1")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	id := blackboard.InsightID("build::flaky-test::ci")
//	ins, err := client.UpsertInsight(ctx, id, func(existing *blackboard.Insight) (*blackboard.Insight, error) {
//		if existing == nil {
//			return &blackboard.Insight{ID: id, ClusterKey: "build::flaky-test::ci", Status: blackboard.InsightStatusCandidate}, nil
//		}
//		return existing, nil
//	})
//
// # Redis Schema
//
// All Redis keys follow the pattern: warren:{instance_name}:{entity}:{id}
//
// Reflections: warren:{instance_name}:reflection:{reflection_id}
// Reflection dedup: warren:{instance_name}:reflection_hash:{content_hash} (TTL = dedup window)
// Insights: warren:{instance_name}:insight:{insight_id} (index set warren:{instance_name}:insights)
// Tasks: warren:{instance_name}:task:{task_id} (index set warren:{instance_name}:tasks)
// Bridge claims: warren:{instance_name}:task_by_insight:{insight_id}
// Suppression: warren:{instance_name}:suppression:{dedup_key} (index set warren:{instance_name}:suppressions)
// Audit stream: warren:{instance_name}:audit
// KV: warren:{instance_name}:kv:{name}
// Throttles: warren:{instance_name}:throttle:{name} (TTL = throttle window)
//
// Pub/Sub channels: warren:{instance_name}:{event_type}_events
//
// Insight Events: warren:{instance_name}:insight_events
// Notification Events: warren:{instance_name}:notification_events
//
// # Design Principles
//
// - Atomicity: every correctness-critical write is a single Redis transaction or script
// - Immutability: reflections and audit entries are never rewritten
// - Isolation: instance namespacing prevents cross-instance interference
package blackboard
