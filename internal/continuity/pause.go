package continuity

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/warren/pkg/blackboard"
)

const pauseKey = "continuity_pause"

// KV is the key/value store holding pause state.
type KV interface {
	SetJSON(ctx context.Context, name string, v any) error
	GetJSON(ctx context.Context, name string, out any) error
	DeleteKV(ctx context.Context, name string) error
}

// PauseState is the persisted pause record.
type PauseState struct {
	UntilMs int64  `json:"until_ms"`
	Reason  string `json:"reason,omitempty"`
	SetAtMs int64  `json:"set_at_ms"`
}

// IsPaused reports whether a pause recorded until untilMs is still in force at
// now. An elapsed pause reads as unpaused; nothing needs to clear it.
func IsPaused(now time.Time, untilMs int64) bool {
	return untilMs > now.UnixMilli()
}

// Pause suspends scheduled ticks until until.
func (l *Loop) Pause(ctx context.Context, until time.Time, reason string) (PauseState, error) {
	state := PauseState{UntilMs: until.UnixMilli(), Reason: reason, SetAtMs: l.now().UnixMilli()}
	if !IsPaused(l.now(), state.UntilMs) {
		return PauseState{}, fmt.Errorf("pause end %s is not in the future", until.Format(time.RFC3339))
	}
	if err := l.kv.SetJSON(ctx, pauseKey, state); err != nil {
		return PauseState{}, fmt.Errorf("failed to persist pause: %w", err)
	}
	l.logger.Info().
		Str("event_type", "continuity_paused").
		Time("until", until).
		Str("reason", reason).
		Msg("continuity loop paused")
	return state, nil
}

// Resume clears any pause.
func (l *Loop) Resume(ctx context.Context) error {
	if err := l.kv.DeleteKV(ctx, pauseKey); err != nil {
		return fmt.Errorf("failed to clear pause: %w", err)
	}
	l.logger.Info().Str("event_type", "continuity_resumed").Msg("continuity loop resumed")
	return nil
}

// PauseStatus returns the stored pause and whether it is still in force.
func (l *Loop) PauseStatus(ctx context.Context) (PauseState, bool, error) {
	var state PauseState
	if err := l.kv.GetJSON(ctx, pauseKey, &state); err != nil {
		if blackboard.IsNotFound(err) {
			return PauseState{}, false, nil
		}
		return PauseState{}, false, fmt.Errorf("failed to read pause: %w", err)
	}
	return state, IsPaused(l.now(), state.UntilMs), nil
}
