package suppression

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	taskIDPattern     = regexp.MustCompile(`\btask[-_][a-z0-9][a-z0-9_-]*`)
	uuidPattern       = regexp.MustCompile(`\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	isoStampPattern   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[t ]\d{2}:\d{2}:\d{2}(\.\d+)?(z|[+-]\d{2}:?\d{2})?`)
	epochPattern      = regexp.MustCompile(`\b\d{10}(\d{3})?\b`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Normalize strips the volatile parts of an alert body so that two alerts
// about the same condition compare equal. It lowercases, replaces generated
// task IDs, UUIDs and timestamps with placeholders, and collapses whitespace.
func Normalize(content string) string {
	s := strings.ToLower(content)
	s = taskIDPattern.ReplaceAllString(s, "<task>")
	s = uuidPattern.ReplaceAllString(s, "<id>")
	s = isoStampPattern.ReplaceAllString(s, "<ts>")
	s = epochPattern.ReplaceAllString(s, "<ts>")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// DedupKey fingerprints an alert by category, channel and normalized content.
func DedupKey(category, channel, content string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(category))))
	h.Write([]byte{0x1f})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(channel))))
	h.Write([]byte{0x1f})
	h.Write([]byte(Normalize(content)))
	return hex.EncodeToString(h.Sum(nil))
}
