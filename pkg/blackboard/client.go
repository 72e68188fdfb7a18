package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic WATCH/MULTI/EXEC retries before giving up.
const maxTxRetries = 16

// ErrConflict is returned when an optimistic transaction keeps losing races.
var ErrConflict = errors.New("blackboard: too many concurrent writers")

// Client provides instance-scoped Redis operations for the blackboard.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new blackboard client for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: Warren instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// InstanceName returns the namespace this client writes under.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// watchRetry runs fn inside WATCH on keys, retrying when another writer wins.
func (c *Client) watchRetry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := c.rdb.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

// InsightSubscription represents an active Pub/Sub subscription to promotion events.
// Caller must call Close() when done to clean up resources.
type InsightSubscription struct {
	events <-chan *InsightEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of promotion events.
// The channel is closed when the subscription is closed or the context is cancelled.
func (s *InsightSubscription) Events() <-chan *InsightEvent {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors.
// The subscription continues after errors; bad messages are skipped.
func (s *InsightSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *InsightSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// PublishInsightEvent announces a promotion on the instance's insight channel.
func (c *Client) PublishInsightEvent(ctx context.Context, ev *InsightEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal insight event: %w", err)
	}
	if err := c.rdb.Publish(ctx, InsightEventsChannel(c.instanceName), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish insight event: %w", err)
	}
	return nil
}

// SubscribeInsightEvents subscribes to promotion events for this instance.
// Delivery is at-most-once; the bridge's catch-up scan covers anything missed.
// The subscription is confirmed with Redis before this method returns, so events
// published afterwards are not lost to a startup race.
func (c *Client) SubscribeInsightEvents(ctx context.Context) (*InsightSubscription, error) {
	pubsub := c.rdb.Subscribe(ctx, InsightEventsChannel(c.instanceName))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to insight events: %w", err)
	}

	eventsChan := make(chan *InsightEvent, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev InsightEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal insight event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &InsightSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// PublishNotification writes an outbound message to the instance's chat channel.
// Chat bridges subscribe to this channel and relay to humans.
func (c *Client) PublishNotification(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := c.rdb.Publish(ctx, NotificationEventsChannel(c.instanceName), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
