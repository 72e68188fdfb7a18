// Package timespec parses the relative and absolute time bounds accepted by
// the CLI's --since and --until flags.
package timespec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse resolves a time specification against now and returns Unix milliseconds.
// Supported formats:
//   - Go durations, meaning "that long ago": "90s", "30m", "1h30m"
//   - Days, meaning "that many days ago": "7d"
//   - RFC3339 timestamps: "2026-10-14T09:00:00Z"
func Parse(spec string, now time.Time) (int64, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	if days, ok := strings.CutSuffix(spec, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil && n >= 0 {
			return now.AddDate(0, 0, -n).UnixMilli(), nil
		}
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative duration: %s", spec)
		}
		return now.Add(-d).UnixMilli(), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use a duration like '1h30m', days like '7d', or RFC3339 like '2026-10-14T09:00:00Z')", spec)
}

// ParseRange parses --since and --until into (sinceMs, untilMs).
// Zero values mean "no bound". since must be before until when both are set.
func ParseRange(since, until string, now time.Time) (int64, int64, error) {
	var sinceMS, untilMS int64
	var err error

	if since != "" {
		sinceMS, err = Parse(since, now)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --since: %w", err)
		}
	}

	if until != "" {
		untilMS, err = Parse(until, now)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if sinceMS > 0 && untilMS > 0 && sinceMS >= untilMS {
		return 0, 0, fmt.Errorf("--since must be before --until")
	}

	return sinceMS, untilMS, nil
}
