package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// multiple Warren instances can share one Redis server.
//
// Key pattern: warren:{instance_name}:{entity}:{id}
// Channel pattern: warren:{instance_name}:{event_type}_events

// ReflectionKey returns the Redis key for a reflection.
// Pattern: warren:{instance_name}:reflection:{reflection_id}
func ReflectionKey(instanceName, reflectionID string) string {
	return fmt.Sprintf("warren:%s:reflection:%s", instanceName, reflectionID)
}

// ReflectionHashKey returns the dedup marker key for a reflection content hash.
// Pattern: warren:{instance_name}:reflection_hash:{content_hash}
func ReflectionHashKey(instanceName, contentHash string) string {
	return fmt.Sprintf("warren:%s:reflection_hash:%s", instanceName, contentHash)
}

// InsightKey returns the Redis key for an insight.
// Pattern: warren:{instance_name}:insight:{insight_id}
func InsightKey(instanceName, insightID string) string {
	return fmt.Sprintf("warren:%s:insight:%s", instanceName, insightID)
}

// InsightIndexKey returns the set holding every insight ID.
// Pattern: warren:{instance_name}:insights
func InsightIndexKey(instanceName string) string {
	return fmt.Sprintf("warren:%s:insights", instanceName)
}

// TaskKey returns the Redis key for a task.
// Pattern: warren:{instance_name}:task:{task_id}
func TaskKey(instanceName, taskID string) string {
	return fmt.Sprintf("warren:%s:task:%s", instanceName, taskID)
}

// TaskIndexKey returns the set holding every task ID.
// Pattern: warren:{instance_name}:tasks
func TaskIndexKey(instanceName string) string {
	return fmt.Sprintf("warren:%s:tasks", instanceName)
}

// TaskByInsightKey returns the bridge claim key for an insight.
// Whoever sets this key first owns task creation for the insight.
// Pattern: warren:{instance_name}:task_by_insight:{insight_id}
func TaskByInsightKey(instanceName, insightID string) string {
	return fmt.Sprintf("warren:%s:task_by_insight:%s", instanceName, insightID)
}

// SuppressionKey returns the Redis key for a suppression ledger entry.
// Pattern: warren:{instance_name}:suppression:{dedup_key}
func SuppressionKey(instanceName, dedupKey string) string {
	return fmt.Sprintf("warren:%s:suppression:%s", instanceName, dedupKey)
}

// SuppressionIndexKey returns the set holding every suppression dedup key.
// Pattern: warren:{instance_name}:suppressions
func SuppressionIndexKey(instanceName string) string {
	return fmt.Sprintf("warren:%s:suppressions", instanceName)
}

// AuditStreamKey returns the Redis stream used as the durable audit log.
// Pattern: warren:{instance_name}:audit
func AuditStreamKey(instanceName string) string {
	return fmt.Sprintf("warren:%s:audit", instanceName)
}

// KVKey returns the key for a named JSON value in the KV store.
// Pattern: warren:{instance_name}:kv:{name}
func KVKey(instanceName, name string) string {
	return fmt.Sprintf("warren:%s:kv:%s", instanceName, name)
}

// ThrottleKey returns the key of a throttle marker.
// Pattern: warren:{instance_name}:throttle:{name}
func ThrottleKey(instanceName, name string) string {
	return fmt.Sprintf("warren:%s:throttle:%s", instanceName, name)
}

// InsightEventsChannel returns the Pub/Sub channel carrying promotion events.
// Pattern: warren:{instance_name}:insight_events
func InsightEventsChannel(instanceName string) string {
	return fmt.Sprintf("warren:%s:insight_events", instanceName)
}

// NotificationEventsChannel returns the Pub/Sub channel used as the chat sink.
// Pattern: warren:{instance_name}:notification_events
func NotificationEventsChannel(instanceName string) string {
	return fmt.Sprintf("warren:%s:notification_events", instanceName)
}
