// Package queue moves booking confirmations through RabbitMQ: the
// publisher is a service.Notifier that enqueues rendered notifications
// on "booking.confirmed", and the consumer delivers them.  Failed
// deliveries wait in "booking.confirmed.retry" and come back after a
// delay; after maxAttempts they are parked in "booking.confirmed.dead".
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/movie-ticket-booking/internal/service"
)

// Queue names.
const (
	NotificationQueue = "booking.confirmed"
	RetryQueue        = NotificationQueue + ".retry"
	DeadLetterQueue   = NotificationQueue + ".dead"
)

const (
	retryDelay       = 30 * time.Second
	maxAttempts      = 5
	dialTimeoutLimit = 30 * time.Second
	heartbeat        = 10 * time.Second
)

// Publisher implements service.Notifier by publishing to RabbitMQ.  Each
// call dials, declares the queue and publishes a persistent message.
type Publisher struct {
	url    string
	logger *slog.Logger
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{url: url, logger: logger.With("component", "publisher")}
}

// Send publishes n.  Errors are logged and returned; the caller decides
// whether they matter.
func (p *Publisher) Send(ctx context.Context, n service.Notification) error {
	pub, err := publishing(n, time.Now())
	if err != nil {
		return err
	}
	conn, err := dial(ctx, p.url)
	if err != nil {
		p.logger.Warn("dial failed", "err", err)
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.logger.Warn("channel open failed", "err", err)
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declare(ch); err != nil {
		p.logger.Warn("queue declare failed", "err", err)
		return err
	}
	if err := ch.PublishWithContext(ctx, "", NotificationQueue, false, false, pub); err != nil {
		p.logger.Warn("publish failed", "booking_id", n.BookingID, "err", err)
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

func publishing(n service.Notification, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal notification: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.BookingID,
		Timestamp:    now.UTC(),
		Body:         body,
	}, nil
}

// dial connects to the broker within the time left on ctx.
func dial(ctx context.Context, url string) (*amqp.Connection, error) {
	timeout, err := dialTimeout(ctx)
	if err != nil {
		return nil, err
	}
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
}

func dialTimeout(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dl, ok := ctx.Deadline()
	if !ok {
		return dialTimeoutLimit, nil
	}
	left := time.Until(dl)
	if left <= 0 {
		return 0, context.DeadlineExceeded
	}
	return min(left, dialTimeoutLimit), nil
}

// retryArgs makes the retry queue hand expired messages back to the
// notification queue.
func retryArgs() amqp.Table {
	return amqp.Table{
		"x-message-ttl":             retryDelay.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": NotificationQueue,
	}
}

func declare(ch *amqp.Channel) error {
	queues := []struct {
		name string
		args amqp.Table
	}{
		{NotificationQueue, nil},
		{RetryQueue, retryArgs()},
		{DeadLetterQueue, nil},
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("queue declare %s: %w", q.name, err)
		}
	}
	return nil
}
