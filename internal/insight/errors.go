package insight

import (
	"errors"
	"fmt"

	"github.com/dyluth/warren/pkg/blackboard"
)

// ErrTaskAlreadyLinked is returned when an insight already points at a
// different task. task_id is written exactly once.
var ErrTaskAlreadyLinked = errors.New("insight already linked to a different task")

// ValidationError rejects a malformed reflection at ingest.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid reflection: %s", e.Reason)
	}
	return fmt.Sprintf("invalid reflection: %s: %s", e.Field, e.Reason)
}

// DuplicateError rejects a reflection whose content hash was already ingested
// inside the dedup window.
type DuplicateError struct {
	ContentHash  string
	ReflectionID string // The reflection holding the hash, if still known
}

func (e *DuplicateError) Error() string {
	if e.ReflectionID == "" {
		return fmt.Sprintf("duplicate reflection content %s", shortHash(e.ContentHash))
	}
	return fmt.Sprintf("duplicate reflection content %s (already ingested as %s)", shortHash(e.ContentHash), e.ReflectionID)
}

// TransitionError rejects a status change the lifecycle does not allow.
type TransitionError struct {
	From blackboard.InsightStatus
	To   blackboard.InsightStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid insight transition %s -> %s", e.From, e.To)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
