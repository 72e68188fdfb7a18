package filter

import "github.com/dyluth/warren/pkg/blackboard"

// AuditCriteria selects audit entries. All set fields must match.
type AuditCriteria struct {
	TaskID           string
	Actor            string
	Field            string
	SinceTimestampMs int64 // 0 = no filter
	UntilTimestampMs int64 // 0 = no filter
	Limit            int   // Keep only the newest N matches, 0 = all
}

// Matches returns true if the entry satisfies every criterion.
func (c *AuditCriteria) Matches(e *blackboard.AuditEntry) bool {
	if c == nil {
		return true
	}
	if c.TaskID != "" && e.TaskID != c.TaskID {
		return false
	}
	if c.Actor != "" && e.Actor != c.Actor {
		return false
	}
	if c.Field != "" && e.Field != c.Field {
		return false
	}
	if c.SinceTimestampMs > 0 && e.TimestampMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && e.TimestampMs > c.UntilTimestampMs {
		return false
	}
	return true
}

// HasFilters returns true if any filters are active.
func (c *AuditCriteria) HasFilters() bool {
	return c != nil && (c.TaskID != "" || c.Actor != "" || c.Field != "" ||
		c.SinceTimestampMs > 0 || c.UntilTimestampMs > 0)
}
