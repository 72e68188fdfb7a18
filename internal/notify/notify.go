// Package notify delivers outbound operational messages.
package notify

import (
	"context"
	"errors"

	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/rs/zerolog"
)

// Notifier delivers one notification to humans.
type Notifier interface {
	Notify(ctx context.Context, n *blackboard.Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n *blackboard.Notification) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, n *blackboard.Notification) error {
	return f(ctx, n)
}

// Log writes notifications to a structured logger.
type Log struct {
	logger zerolog.Logger
}

// NewLog returns a Notifier that logs at warn level.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

// Notify logs n.
func (l *Log) Notify(_ context.Context, n *blackboard.Notification) error {
	l.logger.Warn().
		Str("event_type", "notification").
		Str("category", n.Category).
		Str("channel", n.Channel).
		Msg(n.Content)
	return nil
}

// Publisher publishes to the instance chat channel. *blackboard.Client
// implements it.
type Publisher interface {
	PublishNotification(ctx context.Context, n *blackboard.Notification) error
}

// Chat relays notifications to chat bridges over Redis Pub/Sub.
type Chat struct {
	pub Publisher
}

// NewChat returns a Notifier publishing through pub.
func NewChat(pub Publisher) *Chat {
	return &Chat{pub: pub}
}

// Notify publishes n.
func (c *Chat) Notify(ctx context.Context, n *blackboard.Notification) error {
	return c.pub.PublishNotification(ctx, n)
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []Notifier

// Notify delivers n to each notifier in order.
func (f Fanout) Notify(ctx context.Context, n *blackboard.Notification) error {
	var errs []error
	for _, target := range f {
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
