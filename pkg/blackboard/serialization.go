package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Array and map fields are
// JSON-encoded into single hash fields; scalars stay individually readable so
// Lua scripts and operators can inspect them.

// ReflectionToHash converts a Reflection to a Redis hash.
func ReflectionToHash(r *Reflection) (map[string]interface{}, error) {
	evidenceJSON, err := json.Marshal(nonNil(r.Evidence))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evidence: %w", err)
	}
	tagsJSON, err := json.Marshal(nonNil(r.Tags))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	return map[string]interface{}{
		"id":            r.ID,
		"author":        r.Author,
		"role_type":     r.RoleType,
		"confidence":    r.Confidence,
		"pain":          r.Pain,
		"impact":        r.Impact,
		"evidence":      string(evidenceJSON),
		"went_well":     r.WentWell,
		"suspected_why": r.SuspectedWhy,
		"proposed_fix":  r.ProposedFix,
		"severity":      string(r.Severity),
		"tags":          string(tagsJSON),
		"promote":       strconv.FormatBool(r.Promote),
		"content_hash":  r.ContentHash,
		"created_at_ms": r.CreatedAtMs,
	}, nil
}

// HashToReflection converts a Redis hash to a Reflection.
func HashToReflection(hash map[string]string) (*Reflection, error) {
	confidence, err := strconv.Atoi(hash["confidence"])
	if err != nil {
		return nil, fmt.Errorf("invalid confidence field: %w", err)
	}

	evidence, err := decodeStrings(hash, "evidence")
	if err != nil {
		return nil, err
	}
	tags, err := decodeStrings(hash, "tags")
	if err != nil {
		return nil, err
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	promote, _ := strconv.ParseBool(hash["promote"])

	return &Reflection{
		ID:           hash["id"],
		Author:       hash["author"],
		RoleType:     hash["role_type"],
		Confidence:   confidence,
		Pain:         hash["pain"],
		Impact:       hash["impact"],
		Evidence:     evidence,
		WentWell:     hash["went_well"],
		SuspectedWhy: hash["suspected_why"],
		ProposedFix:  hash["proposed_fix"],
		Severity:     Severity(hash["severity"]),
		Tags:         tags,
		Promote:      promote,
		ContentHash:  hash["content_hash"],
		CreatedAtMs:  createdAtMs,
	}, nil
}

// InsightToHash converts an Insight to a Redis hash.
// Array fields (reflection_ids, evidence_refs, authors) are JSON-encoded.
func InsightToHash(i *Insight) (map[string]interface{}, error) {
	reflectionIDs, err := json.Marshal(nonNil(i.ReflectionIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reflection_ids: %w", err)
	}
	evidenceRefs, err := json.Marshal(nonNil(i.EvidenceRefs))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evidence_refs: %w", err)
	}
	authors, err := json.Marshal(nonNil(i.Authors))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal authors: %w", err)
	}

	return map[string]interface{}{
		"id":                  i.ID,
		"cluster_key":         i.ClusterKey,
		"title":               i.Title,
		"status":              string(i.Status),
		"score":               strconv.FormatFloat(i.Score, 'f', -1, 64),
		"priority":            i.Priority,
		"reflection_ids":      string(reflectionIDs),
		"independent_count":   i.IndependentCount,
		"evidence_refs":       string(evidenceRefs),
		"authors":             string(authors),
		"promotion_readiness": strconv.FormatFloat(i.PromotionReadiness, 'f', -1, 64),
		"recurring_candidate": strconv.FormatBool(i.RecurringCandidate),
		"cooldown_until_ms":   i.CooldownUntilMs,
		"cooldown_reason":     i.CooldownReason,
		"severity_max":        string(i.SeverityMax),
		"task_id":             i.TaskID,
		"created_at_ms":       i.CreatedAtMs,
		"updated_at_ms":       i.UpdatedAtMs,
	}, nil
}

// HashToInsight converts a Redis hash to an Insight.
func HashToInsight(hash map[string]string) (*Insight, error) {
	independentCount, err := strconv.Atoi(hash["independent_count"])
	if err != nil {
		return nil, fmt.Errorf("invalid independent_count field: %w", err)
	}

	reflectionIDs, err := decodeStrings(hash, "reflection_ids")
	if err != nil {
		return nil, err
	}
	evidenceRefs, err := decodeStrings(hash, "evidence_refs")
	if err != nil {
		return nil, err
	}
	authors, err := decodeStrings(hash, "authors")
	if err != nil {
		return nil, err
	}

	score, _ := strconv.ParseFloat(hash["score"], 64)
	readiness, _ := strconv.ParseFloat(hash["promotion_readiness"], 64)
	recurring, _ := strconv.ParseBool(hash["recurring_candidate"])
	cooldownUntil, _ := strconv.ParseInt(hash["cooldown_until_ms"], 10, 64)
	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	return &Insight{
		ID:                 hash["id"],
		ClusterKey:         hash["cluster_key"],
		Title:              hash["title"],
		Status:             InsightStatus(hash["status"]),
		Score:              score,
		Priority:           hash["priority"],
		ReflectionIDs:      reflectionIDs,
		IndependentCount:   independentCount,
		EvidenceRefs:       evidenceRefs,
		Authors:            authors,
		PromotionReadiness: readiness,
		RecurringCandidate: recurring,
		CooldownUntilMs:    cooldownUntil,
		CooldownReason:     hash["cooldown_reason"],
		SeverityMax:        Severity(hash["severity_max"]),
		TaskID:             hash["task_id"],
		CreatedAtMs:        createdAtMs,
		UpdatedAtMs:        updatedAtMs,
	}, nil
}

// TaskToHash converts a Task to a Redis hash.
// Tags are a JSON array and metadata a JSON object.
func TaskToHash(t *Task) (map[string]interface{}, error) {
	tagsJSON, err := json.Marshal(nonNil(t.Tags))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	metadataJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return map[string]interface{}{
		"id":            t.ID,
		"title":         t.Title,
		"status":        string(t.Status),
		"assignee":      t.Assignee,
		"reviewer":      t.Reviewer,
		"tags":          string(tagsJSON),
		"done_criteria": t.DoneCriteria,
		"priority":      t.Priority,
		"metadata":      string(metadataJSON),
		"created_at_ms": t.CreatedAtMs,
		"updated_at_ms": t.UpdatedAtMs,
	}, nil
}

// HashToTask converts a Redis hash to a Task.
func HashToTask(hash map[string]string) (*Task, error) {
	tags, err := decodeStrings(hash, "tags")
	if err != nil {
		return nil, err
	}

	var metadata Metadata
	if raw := hash["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	return &Task{
		ID:           hash["id"],
		Title:        hash["title"],
		Status:       TaskStatus(hash["status"]),
		Assignee:     hash["assignee"],
		Reviewer:     hash["reviewer"],
		Tags:         tags,
		DoneCriteria: hash["done_criteria"],
		Priority:     hash["priority"],
		Metadata:     metadata,
		CreatedAtMs:  createdAtMs,
		UpdatedAtMs:  updatedAtMs,
	}, nil
}

// HashToSuppressionEntry converts a ledger hash to a SuppressionEntry.
func HashToSuppressionEntry(dedupKey string, hash map[string]string) (*SuppressionEntry, error) {
	hits, err := strconv.ParseInt(hash["hit_count"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid hit_count field: %w", err)
	}
	firstSeen, _ := strconv.ParseInt(hash["first_seen_at_ms"], 10, 64)
	lastSeen, _ := strconv.ParseInt(hash["last_seen_at_ms"], 10, 64)

	return &SuppressionEntry{
		DedupKey:      dedupKey,
		Category:      hash["category"],
		Channel:       hash["channel"],
		HitCount:      hits,
		FirstSeenAtMs: firstSeen,
		LastSeenAtMs:  lastSeen,
	}, nil
}

// decodeStrings reads a JSON string array field. Missing fields decode to an
// empty slice instead of nil for consistency.
func decodeStrings(hash map[string]string, field string) ([]string, error) {
	var out []string
	if raw := hash[field]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", field, err)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
