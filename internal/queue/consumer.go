package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/movie-ticket-booking/internal/service"
)

const (
	maxBackoff     = 30 * time.Second
	attemptsHeader = "x-attempts"
)

var errMalformed = errors.New("malformed notification")

// Consumer reads notifications off the queue, delivers them and appends
// a line per delivery to <LogDir>/booking.log.
type Consumer struct {
	URL     string
	Deliver service.Notifier
	LogDir  string
	// Timeout bounds a single delivery.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Run connects and consumes until ctx is done, reconnecting with
// exponential backoff whenever the broker goes away.
func (c *Consumer) Run(ctx context.Context) error {
	logger := c.logger()
	backoff := time.Second
	for {
		conn, err := dial(ctx, c.URL)
		if err != nil {
			logger.Warn("failed to dial broker", "err", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("consume loop ended, reconnecting", "err", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		c.logger().Warn("set QoS failed", "err", err)
	}
	if err := declare(ch); err != nil {
		return err
	}
	msgs, err := ch.Consume(NotificationQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(ctx, d.Body); err != nil {
				c.reroute(ctx, ch, d, err)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// reroute moves a failed delivery to the retry queue, or to the dead
// letter queue once it is malformed or out of attempts.  The original is
// acked only after the copy is published.
func (c *Consumer) reroute(ctx context.Context, ch *amqp.Channel, d amqp.Delivery, cause error) {
	queue, pub := nextRoute(d, cause)
	c.logger().Error("handle message failed", "message_id", d.MessageId,
		"attempt", attempts(d.Headers)+1, "routed_to", queue, "err", cause)
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		c.logger().Warn("reroute failed, requeueing", "message_id", d.MessageId, "err", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// nextRoute picks the queue for a failed delivery and builds the copy
// to publish there.
func nextRoute(d amqp.Delivery, cause error) (string, amqp.Publishing) {
	n := attempts(d.Headers) + 1
	queue := RetryQueue
	if errors.Is(cause, errMalformed) || n >= maxAttempts {
		queue = DeadLetterQueue
	}
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[attemptsHeader] = int32(n)
	return queue, amqp.Publishing{
		Headers:      headers,
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    d.Timestamp,
		Body:         d.Body,
	}
}

func attempts(h amqp.Table) int {
	switch v := h[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var n service.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if c.Deliver != nil {
		dctx := ctx
		if c.Timeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(ctx, c.Timeout)
			defer cancel()
		}
		if err := c.Deliver.Send(dctx, n); err != nil {
			return fmt.Errorf("deliver %s: %w", n.BookingID, err)
		}
	}
	return c.appendLog(n)
}

func (c *Consumer) appendLog(n service.Notification) error {
	dir := c.LogDir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "booking.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(logLine(n, time.Now())); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func logLine(n service.Notification, at time.Time) string {
	seats, movie, showTime, total := "[]", "", "", ""
	if t := n.Ticket; t != nil {
		seats = "[" + strings.Join(t.Seats, ",") + "]"
		movie = t.MovieTitle
		showTime = t.ShowTime.UTC().Format(time.RFC3339)
		total = t.Total()
	}
	return fmt.Sprintf("[%s] Booking confirmed | booking_id=%s | to=%s | movie=%q | show_time=%s | total=%s | seats=%s\n",
		at.UTC().Format(time.RFC3339), n.BookingID, n.To, movie, showTime, total, seats)
}

func (c *Consumer) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default().With("component", "booking-consumer")
	}
	return c.Logger
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
