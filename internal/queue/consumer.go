package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// HandlerFunc processes one message body. A non-nil error triggers the
// queue's retry policy; once attempts are exhausted the message is
// terminally failed.
type HandlerFunc func(ctx context.Context, body []byte) error

// Consumer services one named queue with a single in-flight message at
// a time. Multiple Consumer processes may run against the same queue;
// the broker distributes messages between them.
type Consumer struct {
	connectionString string
	config           Config
	handle           HandlerFunc
	logger           *slog.Logger
}

func NewConsumer(connectionString string, c Config, handle HandlerFunc) *Consumer {
	return &Consumer{
		connectionString: connectionString,
		config:           c,
		handle:           handle,
		logger:           slog.With("component", "consumer", "queue", c.Name),
	}
}

// Run consumes until ctx is canceled. Lost connections are redialed
// with jittered backoff.
func (con *Consumer) Run(ctx context.Context) error {
	retries := 0
	for {
		consumeErr := con.consume(ctx, &retries)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		con.logger.Error("didn't consume", "err", consumeErr)

		retries++
		select {
		case <-time.After(retryWaitDuration(retries - 1)):
		case <-ctx.Done():
			return ctx.Err()
		}
		con.logger.Info("retrying", "retries", retries)
	}
}

func (con *Consumer) consume(ctx context.Context, retries *int) error {
	conn, err := amqp091.Dial(con.connectionString)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err = declareQueues(ch, con.config); err != nil {
		return err
	}

	if err = ch.Qos(1, 0, false); err != nil {
		return err
	}

	messages, err := ch.Consume(con.config.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	con.logger.Info("starting consuming")
	for m := range messages {
		con.handleDelivery(ctx, ch, m)
		if *retries > 0 && !ch.IsClosed() {
			con.logger.Info("recovered", "retries", *retries)
			*retries = 0
		}
	}

	return errors.New("delivery channel is closed")
}

// publisher is the slice of an AMQP channel the delivery handler needs
// to republish retries.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func (con *Consumer) handleDelivery(ctx context.Context, ch publisher, m amqp091.Delivery) {
	attempt := attemptsFromHeaders(m.Headers) + 1

	err := con.handle(ctx, m.Body)
	if err == nil {
		_ = m.Ack(false)
		return
	}

	if attempt >= con.config.MaxAttempts {
		// Out of attempts. The message is dropped; resubmission is the
		// caller's decision.
		con.logger.Error("message terminally failed",
			"attempt", attempt,
			"max_attempts", con.config.MaxAttempts,
			"err", err,
		)
		_ = m.Nack(false, false)
		return
	}

	backoff := con.config.Backoff(attempt - 1)
	con.logger.Warn("message failed, scheduling retry",
		"attempt", attempt,
		"backoff", backoff,
		"err", err,
	)
	if republishErr := con.republish(ctx, ch, m, attempt, backoff); republishErr != nil {
		con.logger.Error("didn't republish, requeueing instead", "err", republishErr)
		_ = m.Nack(false, true)
		return
	}
	_ = m.Ack(false)
}

// republish parks the message on the wait queue with the backoff as
// per-message TTL so it dead-letters back onto the work queue.
func (con *Consumer) republish(ctx context.Context, ch publisher, m amqp091.Delivery, attempt int, backoff time.Duration) error {
	pub := amqp091.Publishing{
		ContentType: m.ContentType,
		Body:        m.Body,
		Headers:     amqp091.Table{attemptsHeader: int32(attempt)},
	}

	routingKey := con.config.Name
	if backoff > 0 {
		routingKey = con.config.waitName()
		pub.Expiration = strconv.FormatInt(backoff.Milliseconds(), 10)
	}

	err := ch.PublishWithContext(ctx, "", routingKey, false, false, pub)
	if err != nil {
		return fmt.Errorf("queue.Consumer: %w", err)
	}

	return nil
}

// retryWaitDuration calculates the wait duration for a connection
// retry. It is calculated using exponential backoff with jitter and
// stops growing after the thirteenth retry. The first retry number
// is 0.
func retryWaitDuration(retry int) time.Duration {
	n := min(retry, 12)
	second := int(time.Second)

	// start with 0.5s
	duration := second / 2

	// multiply by 1.5 to the power of n
	for i := 0; i < n; i++ {
		duration /= 2
		duration *= 3
	}

	// add or subtract up to 50%
	jitter := rand.IntN(duration) - duration/2
	duration += jitter

	return time.Duration(duration)
}
