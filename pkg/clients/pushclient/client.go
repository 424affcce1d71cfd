package pushclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
)

// ErrNacked is returned when the broker refuses a push message
var ErrNacked = errors.New("push message nacked by broker")

// DefaultExchange is the topic exchange the push gateway consumes from
const DefaultExchange = "push_notifications"

// publisher is the part of *amqp.Channel the client uses
type publisher interface {
	publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
	Close() error
}

// confirmation is the broker's answer for one published message
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type amqpChannel struct {
	*amqp.Channel
}

func (c amqpChannel) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("publisher confirms are not enabled on the channel")
	}
	return dc, nil
}

// envelope is the wire format consumed by the push gateway
type envelope struct {
	Subscription string            `json:"subscription"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	Data         map[string]string `json:"data,omitempty"`
}

// Client publishes push notifications to RabbitMQ and waits for the broker's confirm
type Client struct {
	conn     *amqp.Connection
	ch       publisher
	exchange string
	timeout  time.Duration
}

// Dial connects to RabbitMQ, declares the exchange and enables publisher confirms
func Dial(url, exchange string, timeout time.Duration) (*Client, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	c := newClient(amqpChannel{ch}, exchange, timeout)
	c.conn = conn
	return c, nil
}

func newClient(ch publisher, exchange string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{ch: ch, exchange: exchange, timeout: timeout}
}

// SendPush publishes one push message for a subscription and waits for the confirm
// of that message. A confirm arriving after the timeout is never credited to a later publish.
func (c *Client) SendPush(ctx context.Context, subscription string, msg model.PushMessage) error {
	body, err := json.Marshal(envelope{
		Subscription: subscription,
		Title:        msg.Title,
		Body:         msg.Body,
		Data:         msg.Data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conf, err := c.ch.publish(ctx, c.exchange, routingKey(msg), amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish push message: %w", err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for publish confirm: %w", err)
	}
	if !acked {
		return ErrNacked
	}
	return nil
}

// Ping reports whether the connection is still open
func (c *Client) Ping() error {
	if c.conn == nil || c.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// Close closes the channel and the connection
func (c *Client) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// routingKey lets the gateway bind per kind: push.job or push.storm
func routingKey(msg model.PushMessage) string {
	if _, ok := msg.Data["storm_event_id"]; ok {
		return "push.storm"
	}
	return "push.job"
}
