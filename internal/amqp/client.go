package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	// Declare exchange
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Declare queue
	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Bind queue to exchange (routing key == queue name for a direct exchange)
	err = c.channel.QueueBind(
		c.queueName,
		c.queueName,
		c.exchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// PublishAllocation publishes a committed allocation as a persistent message.
func (c *Client) PublishAllocation(ctx context.Context, msg *AllocationMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Type:         TypeAllocation,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	slog.InfoContext(ctx, "Published allocation message",
		"family", msg.Family,
		"requested_cents", msg.RequestedCents,
		"consumed", len(msg.Consumed),
		"exchange", c.exchangeName,
		"queue", c.queueName)

	return nil
}

// PublishVoucherAdded publishes a voucher-added event as a persistent message.
func (c *Client) PublishVoucherAdded(ctx context.Context, msg *VoucherAddedMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName,
		c.queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Type:         TypeVoucherAdded,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	slog.InfoContext(ctx, "Published voucher added message",
		"family", msg.Family,
		"voucher_id", msg.VoucherID,
		"exchange", c.exchangeName)

	return nil
}

// ConsumeMessages delivers queued events to the matching handler until ctx is
// cancelled, dispatching on the delivery's Type property. A handler error
// nacks the delivery back onto the queue; an unmarshalable body is dropped.
// Deliveries without a Type are treated as allocations.
func (c *Client) ConsumeMessages(ctx context.Context, allocHandler func(*AllocationMessage) error, addedHandler func(*VoucherAddedMessage) error) error {
	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming messages", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			var handleErr error
			switch delivery.Type {
			case TypeVoucherAdded:
				msg, err := VoucherAddedMessageFromJSON(delivery.Body)
				if err != nil {
					slog.ErrorContext(ctx, "Failed to unmarshal voucher added message", "error", err)
					delivery.Nack(false, false) // reject and don't requeue
					continue
				}
				handleErr = addedHandler(msg)
			default:
				msg, err := AllocationMessageFromJSON(delivery.Body)
				if err != nil {
					slog.ErrorContext(ctx, "Failed to unmarshal allocation message", "error", err)
					delivery.Nack(false, false) // reject and don't requeue
					continue
				}
				handleErr = allocHandler(msg)
			}

			if handleErr != nil {
				slog.ErrorContext(ctx, "Failed to handle message",
					"error", handleErr,
					"type", delivery.Type)
				delivery.Nack(false, true) // reject and requeue
				continue
			}

			delivery.Ack(false)
		}
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ExponentialBackoff returns the wait before reconnect attempt n, capped at 30s.
func ExponentialBackoff(attempt int) time.Duration {
	d := time.Second << uint(attempt)
	if d > 30*time.Second || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// IsConnectionError reports whether err looks like a broken broker connection,
// as opposed to a handler failure.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection closed") ||
		strings.Contains(s, "channel closed") ||
		strings.Contains(s, "EOF")
}
