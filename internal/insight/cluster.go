package insight

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/dyluth/warren/pkg/blackboard"
)

// Cluster key tag prefixes, in key order.
const (
	TagStage  = "stage:"
	TagFamily = "family:"
	TagUnit   = "unit:"

	unknownComponent = "unknown"
	maxTitleLength   = 80
)

// ClusterKey builds stage::family::unit from a reflection's tags. The first tag
// for each prefix wins; a missing component reads as "unknown".
func ClusterKey(tags []string) string {
	parts := []string{"", "", ""}
	for _, tag := range tags {
		t := strings.TrimSpace(tag)
		lower := strings.ToLower(t)
		for i, prefix := range []string{TagStage, TagFamily, TagUnit} {
			if parts[i] == "" && strings.HasPrefix(lower, prefix) {
				parts[i] = clusterComponent(lower[len(prefix):])
			}
		}
	}
	for i := range parts {
		if parts[i] == "" {
			parts[i] = unknownComponent
		}
	}
	return strings.Join(parts, "::")
}

func clusterComponent(v string) string {
	return strings.Join(strings.Fields(v), "-")
}

// ContentHash fingerprints a reflection by author and pain, ignoring case and
// whitespace differences.
func ContentHash(author, pain string) string {
	sum := sha256.Sum256([]byte(normalizeText(author) + "|" + normalizeText(pain)))
	return hex.EncodeToString(sum[:])
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Title derives an insight title from the first line of the pain.
func Title(pain string) string {
	line := strings.TrimSpace(pain)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if utf8.RuneCountInString(line) <= maxTitleLength {
		return line
	}
	runes := []rune(line)
	return strings.TrimSpace(string(runes[:maxTitleLength-3])) + "..."
}

var severityWeight = map[blackboard.Severity]float64{
	blackboard.SeverityLow:      1,
	blackboard.SeverityMedium:   2,
	blackboard.SeverityHigh:     4,
	blackboard.SeverityCritical: 8,
}

// ReflectionScore is a reflection's contribution to its insight's score.
func ReflectionScore(r *blackboard.Reflection) float64 {
	return severityWeight[r.Severity] * float64(r.Confidence) / 10
}

// Priority maps the worst severity seen in a cluster to a board priority.
func Priority(s blackboard.Severity) string {
	switch s {
	case blackboard.SeverityCritical:
		return "P0"
	case blackboard.SeverityHigh:
		return "P1"
	case blackboard.SeverityMedium:
		return "P2"
	default:
		return "P3"
	}
}
