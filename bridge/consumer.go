package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/brightpath/tutorstream/errors"
	"github.com/brightpath/tutorstream/event"
)

// Publisher accepts transformed events. The event router satisfies this.
type Publisher interface {
	Publish(ev *event.Event) error
}

// Consumer subscribes to broker subjects and feeds each message through the
// bridge into a publisher. One bad message is logged and skipped; the
// subscription stays alive.
type Consumer struct {
	logger    *slog.Logger
	bridge    *Bridge
	publisher Publisher
	conn      *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewConsumer creates a consumer bound to an established NATS connection.
func NewConsumer(logger *slog.Logger, conn *nats.Conn, b *Bridge, publisher Publisher) (*Consumer, error) {
	if conn == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Consumer", "NewConsumer", "require connection")
	}
	if b == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Consumer", "NewConsumer", "require bridge")
	}
	if publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Consumer", "NewConsumer", "require publisher")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		logger:    logger.With("component", "bridge.consumer"),
		bridge:    b,
		publisher: publisher,
		conn:      conn,
	}, nil
}

// Subscribe starts consuming one subject. Message handling errors never
// propagate to NATS; a drop is a log line and a counter.
func (c *Consumer) Subscribe(ctx context.Context, subject string) error {
	if subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Consumer", "Subscribe", "require subject")
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		c.handle(msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Consumer", "Subscribe", "subscribe subject")
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	c.logger.Info("consuming subject", "subject", subject)
	return nil
}

// handle transforms and publishes one raw message.
func (c *Consumer) handle(payload []byte) {
	ev, err := c.bridge.TransformJSON(payload)
	if err != nil {
		// Already counted and logged by the bridge.
		return
	}

	if err := c.publisher.Publish(ev); err != nil {
		c.logger.Warn("failed to publish transformed event",
			"event_id", ev.ID,
			"topic", ev.Topic,
			"error", err)
	}
}

// Close unsubscribes all subjects.
func (c *Consumer) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "Consumer", "Close", "unsubscribe")
		}
	}
	return firstErr
}
