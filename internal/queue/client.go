package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rabbitmq/amqp091-go"
)

const attemptsHeader = "x-attempts"

// Client publishes messages onto named queues.
// It dials a fresh connection per publish which keeps the publishing
// side free of connection state; publishers in this system are
// low-volume (one message per build or task).
type Client struct {
	connectionString string
}

func NewClient(connectionString string) *Client {
	return &Client{connectionString: connectionString}
}

// Publish declares the queue pair for c and enqueues body as a JSON
// message. If the queue has a start delay, the message is parked on the
// wait queue and dead-lettered onto the work queue when the delay
// expires.
func (cli *Client) Publish(ctx context.Context, c Config, body []byte) error {
	conn, err := amqp091.Dial(cli.connectionString)
	if err != nil {
		return fmt.Errorf("queue.Client: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("queue.Client: %w", err)
	}
	defer ch.Close()

	if err = declareQueues(ch, c); err != nil {
		return fmt.Errorf("queue.Client: %w", err)
	}

	m := amqp091.Publishing{
		ContentType: "application/json",
		Body:        body,
		Headers:     amqp091.Table{attemptsHeader: int32(0)},
	}

	routingKey := c.Name
	if c.Delay > 0 {
		routingKey = c.waitName()
		m.Expiration = strconv.FormatInt(c.Delay.Milliseconds(), 10)
	}

	err = ch.PublishWithContext(ctx, "", routingKey, false, false, m)
	if err != nil {
		return fmt.Errorf("queue.Client: %w", err)
	}

	return nil
}

// declareQueues declares the work queue and, when the policy needs it,
// the companion wait queue that dead-letters back onto the work queue.
func declareQueues(ch *amqp091.Channel, c Config) error {
	_, err := ch.QueueDeclare(c.Name, true, false, false, false, nil)
	if err != nil {
		return err
	}

	if c.Delay > 0 || c.MaxAttempts > 1 {
		_, err = ch.QueueDeclare(c.waitName(), true, false, false, false, amqp091.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": c.Name,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// attemptsFromHeaders reads the attempt counter from a delivery.
// Missing or malformed headers count as zero prior attempts.
func attemptsFromHeaders(headers amqp091.Table) int {
	switch v := headers[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
