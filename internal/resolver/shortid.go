// Package resolver expands short insight ID prefixes typed at the CLI.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
const MinShortIDLength = 6

// ErrShortIDTooShort is returned for prefixes under MinShortIDLength.
var ErrShortIDTooShort = errors.New("short ID too short")

// maxListed caps the matches printed for an ambiguous prefix.
const maxListed = 10

// Source lists known insight IDs.
type Source interface {
	ListInsightIDs(ctx context.Context) ([]string, error)
}

// ResolveInsightID resolves a short ID prefix to a full insight ID. A full
// UUID is returned unchanged once src confirms it is known.
func ResolveInsightID(ctx context.Context, src Source, shortID string) (string, error) {
	shortID = strings.ToLower(strings.TrimSpace(shortID))
	full := len(shortID) == 36 && strings.Count(shortID, "-") == 4

	if !full && len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("%w: need at least %d characters (got %d)", ErrShortIDTooShort, MinShortIDLength, len(shortID))
	}

	ids, err := src.ListInsightIDs(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to search for insight: %w", err)
	}

	var matches []string
	for _, id := range ids {
		if full && id == shortID {
			return id, nil
		}
		if !full && strings.HasPrefix(id, shortID) {
			matches = append(matches, id)
		}
	}
	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no insights matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no insights found matching '%s'", e.ShortID)
}

// AmbiguousError indicates multiple insights matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d insights", e.ShortID, len(e.Matches))
}

// Describe lists the matches, truncated after ten.
func (e *AmbiguousError) Describe() string {
	var b strings.Builder
	listed := e.Matches
	if len(listed) > maxListed {
		listed = listed[:maxListed]
	}
	for _, m := range listed {
		fmt.Fprintf(&b, "  %s\n", m)
	}
	if extra := len(e.Matches) - len(listed); extra > 0 {
		fmt.Fprintf(&b, "  ...and %d more\n", extra)
	}
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	var target *AmbiguousError
	return errors.As(err, &target)
}
