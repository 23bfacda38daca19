// Package events carries access-changed notifications from the access
// service to the claims worker over an in-process watermill pub/sub.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/cenie/accessd/pkg/logger"
)

const TopicAccessChanged = "access.changed"

// AccessChanged says a subject's grants changed and their claims summary
// must be recomputed.
type AccessChanged struct {
	UserID     string    `json:"userId"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewBus returns a GoChannel pub/sub. Messages published while nothing is
// subscribed are dropped.
func NewBus(log *slog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermill.NewSlogLogger(log),
	)
}

// Publisher implements access.ChangeNotifier.
type Publisher struct {
	pub message.Publisher
	now func() time.Time
}

func NewPublisher(pub message.Publisher) *Publisher {
	return &Publisher{pub: pub, now: time.Now}
}

// NotifyChanged never fails the caller; a publish error is logged.
func (p *Publisher) NotifyChanged(ctx context.Context, userID string) {
	if err := p.Publish(ctx, AccessChanged{UserID: userID, OccurredAt: p.now().UTC()}); err != nil {
		logger.ErrorContext(ctx, "failed to publish access change",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Publisher) Publish(ctx context.Context, event AccessChanged) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal access change: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(context.WithoutCancel(ctx))

	if err := p.pub.Publish(TopicAccessChanged, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", TopicAccessChanged, err)
	}
	return nil
}

// Handler processes one access change.
type Handler func(ctx context.Context, event AccessChanged) error

// Consumer is a supervised subscriber that feeds access changes to a
// handler one at a time. Handler errors are logged and the message is
// acked; the next change for the subject recomputes from scratch anyway.
type Consumer struct {
	sub     message.Subscriber
	handler Handler
	timeout time.Duration

	subscribed     chan struct{}
	subscribedOnce sync.Once
}

func NewConsumer(sub message.Subscriber, handler Handler, timeout time.Duration) *Consumer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Consumer{
		sub:        sub,
		handler:    handler,
		timeout:    timeout,
		subscribed: make(chan struct{}),
	}
}

// Subscribed is closed once the first subscription is in place.
func (c *Consumer) Subscribed() <-chan struct{} {
	return c.subscribed
}

func (c *Consumer) Serve(ctx context.Context) error {
	messages, err := c.sub.Subscribe(ctx, TopicAccessChanged)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", TopicAccessChanged, err)
	}
	c.subscribedOnce.Do(func() { close(c.subscribed) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	var event AccessChanged
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		logger.WarnContext(ctx, "dropping malformed access change",
			slog.String("message_id", msg.UUID),
			slog.String("error", err.Error()),
		)
		return
	}

	// The publisher's context carries the trace of the grant or revoke.
	handleCtx, cancel := context.WithTimeout(msg.Context(), c.timeout)
	defer cancel()

	if err := c.handler(handleCtx, event); err != nil {
		logger.ErrorContext(handleCtx, "access change handler failed",
			slog.String("user_id", event.UserID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Consumer) String() string {
	return "access-change-consumer"
}
