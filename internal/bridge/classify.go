package bridge

import (
	"strings"
	"unicode"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/pkg/blackboard"
)

// Classifier splits insights into the bug and feature lanes.
type Classifier struct {
	bug     map[string]bool
	feature map[string]bool
}

// NewClassifier builds a classifier from keyword lists. Empty lists fall back
// to the defaults.
func NewClassifier(bugKeywords, featureKeywords []string) *Classifier {
	if len(bugKeywords) == 0 {
		bugKeywords = config.DefaultBugKeywords
	}
	if len(featureKeywords) == 0 {
		featureKeywords = config.DefaultFeatureKeywords
	}
	return &Classifier{bug: wordSet(bugKeywords), feature: wordSet(featureKeywords)}
}

func wordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return set
}

// IsFeatureRequest reports whether an insight belongs in the feature lane. Bug
// vocabulary always wins. Otherwise feature vocabulary, or a low or absent
// severity, makes it a feature request.
func (c *Classifier) IsFeatureRequest(title, clusterKey string, severity blackboard.Severity) bool {
	words := tokens(title + " " + clusterKey)
	for _, w := range words {
		if c.matches(c.bug, w) {
			return false
		}
	}
	for _, w := range words {
		if c.matches(c.feature, w) {
			return true
		}
	}
	return severity == "" || severity == blackboard.SeverityLow
}

// matches also accepts simple inflections such as "crashes" or "failing".
func (c *Classifier) matches(set map[string]bool, word string) bool {
	if set[word] {
		return true
	}
	for _, suffix := range []string{"es", "s", "ed", "ing", "ure", "ures"} {
		if stem, ok := strings.CutSuffix(word, suffix); ok && len(stem) >= 3 && set[stem] {
			return true
		}
	}
	return false
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
