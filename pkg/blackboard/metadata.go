package blackboard

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Reserved metadata keys. Values under these keys are decoded strictly.
const (
	MetaSourceInsight     = "source_insight"
	MetaSourceReflection  = "source_reflection"
	MetaSourceReflections = "source_reflections"
	MetaClusterKey        = "cluster_key"
	MetaLane              = "lane"
	MetaReviewerApproved  = "reviewer_approved"
	MetaReviewState       = "review_state"
	MetaApprovedBy        = "approved_by"
)

// Task lanes.
const (
	LaneBug     = "bug"
	LaneFeature = "feature"
)

// Metadata is the open metadata map attached to a task. Known keys are typed
// fields; anything else round-trips untouched through Extra.
type Metadata struct {
	SourceInsight     string
	SourceReflection  string
	SourceReflections []string
	ClusterKey        string
	Lane              string
	ReviewerApproved  *bool
	ReviewState       string
	ApprovedBy        string

	Extra map[string]any
}

// IsReservedKey reports whether key is one of the typed metadata keys.
func IsReservedKey(key string) bool {
	switch key {
	case MetaSourceInsight, MetaSourceReflection, MetaSourceReflections, MetaClusterKey,
		MetaLane, MetaReviewerApproved, MetaReviewState, MetaApprovedBy:
		return true
	}
	return false
}

// Set stores a pass-through value. Reserved keys must be set through their fields.
func (m *Metadata) Set(key string, value any) error {
	if IsReservedKey(key) {
		return fmt.Errorf("metadata key %q is reserved", key)
	}
	if m.Extra == nil {
		m.Extra = make(map[string]any)
	}
	m.Extra[key] = value
	return nil
}

// ReferencesReflection reports whether the metadata names reflectionID as a source.
func (m Metadata) ReferencesReflection(reflectionID string) bool {
	if m.SourceReflection == reflectionID {
		return true
	}
	for _, id := range m.SourceReflections {
		if id == reflectionID {
			return true
		}
	}
	return false
}

// Approved reports whether reviewer_approved is set and true.
func (m Metadata) Approved() bool {
	return m.ReviewerApproved != nil && *m.ReviewerApproved
}

// Clone returns a deep copy. Extra values are copied shallowly.
func (m Metadata) Clone() Metadata {
	c := m
	c.SourceReflections = append([]string(nil), m.SourceReflections...)
	if m.ReviewerApproved != nil {
		v := *m.ReviewerApproved
		c.ReviewerApproved = &v
	}
	if m.Extra != nil {
		c.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// MarshalJSON flattens the typed keys and Extra into one object.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+8)
	for k, v := range m.Extra {
		if IsReservedKey(k) {
			continue
		}
		out[k] = v
	}
	putString(out, MetaSourceInsight, m.SourceInsight)
	putString(out, MetaSourceReflection, m.SourceReflection)
	putString(out, MetaClusterKey, m.ClusterKey)
	putString(out, MetaLane, m.Lane)
	putString(out, MetaReviewState, m.ReviewState)
	putString(out, MetaApprovedBy, m.ApprovedBy)
	if len(m.SourceReflections) > 0 {
		out[MetaSourceReflections] = m.SourceReflections
	}
	if m.ReviewerApproved != nil {
		out[MetaReviewerApproved] = *m.ReviewerApproved
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes reserved keys into typed fields and rejects values of
// the wrong type. Unknown keys land in Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("metadata must be a JSON object: %w", err)
	}

	*m = Metadata{}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := raw[k]
		var err error
		switch k {
		case MetaSourceInsight:
			err = json.Unmarshal(v, &m.SourceInsight)
		case MetaSourceReflection:
			err = json.Unmarshal(v, &m.SourceReflection)
		case MetaSourceReflections:
			err = json.Unmarshal(v, &m.SourceReflections)
		case MetaClusterKey:
			err = json.Unmarshal(v, &m.ClusterKey)
		case MetaLane:
			err = json.Unmarshal(v, &m.Lane)
		case MetaReviewState:
			err = json.Unmarshal(v, &m.ReviewState)
		case MetaApprovedBy:
			err = json.Unmarshal(v, &m.ApprovedBy)
		case MetaReviewerApproved:
			var b bool
			if err = json.Unmarshal(v, &b); err == nil {
				m.ReviewerApproved = &b
			}
		default:
			var anyVal any
			if err = json.Unmarshal(v, &anyVal); err == nil {
				if m.Extra == nil {
					m.Extra = make(map[string]any)
				}
				m.Extra[k] = anyVal
			}
		}
		if err != nil {
			return fmt.Errorf("invalid metadata field %q: %w", k, err)
		}
	}
	return nil
}

func putString(out map[string]any, key, value string) {
	if value != "" {
		out[key] = value
	}
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
