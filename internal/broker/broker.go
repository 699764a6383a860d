// Package broker consumes the submission queue: durable declaration,
// prefetch=1, manual ack, delivering one submission envelope at a time
// to its handler.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/oj-platform/exec-worker/internal/config"
)

// Envelope is the inbound broker message.
type Envelope struct {
	SubmissionID string `json:"submission_id"`
}

// Handler processes one decoded envelope. A non-nil return means the
// message must not be acked — the Broker Consumer will Nack and
// requeue it.
type Handler func(ctx context.Context, env Envelope) error

// Consumer declares the submission queue durable, holds prefetch=1, and
// delivers messages synchronously to a Handler, acking only after the
// handler returns nil.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string

	// OnRedelivered, if set, is called once per delivery the broker
	// marked redelivered (a prior attempt crashed before ack).
	OnRedelivered func()
}

// Dial connects to the broker: a plain host in development, an
// amqps:// URL with injected credentials in production.
func Dial(cfg *config.Config, queue string) (*Consumer, error) {
	url := DialURL(cfg)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing broker: %v", ErrUnavailable, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: opening channel: %v", ErrUnavailable, err)
	}

	if err := channel.Qos(1, 0, false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("setting prefetch=1: %w", err)
	}

	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring durable queue %s: %w", queue, err)
	}

	return &Consumer{conn: conn, channel: channel, queue: queue}, nil
}

// DialURL builds the broker URL for cfg's environment: a guest@host URL
// around the plain development host, or the production amqps:// URL
// with credentials injected.
func DialURL(cfg *config.Config) string {
	if cfg.Environment == config.Production {
		return injectCredentials(cfg.SubmissionQueue, cfg.RabbitMQUsername, cfg.RabbitMQPassword)
	}
	return fmt.Sprintf("amqp://guest:guest@%s:5672/", cfg.SubmissionQueue)
}

// injectCredentials splices the username:password@ segment into a bare
// amqps:// URL.
func injectCredentials(url, username, password string) string {
	return strings.Replace(url, "amqps://", fmt.Sprintf("amqps://%s:%s@", strings.TrimSpace(username), strings.TrimSpace(password)), 1)
}

// Run blocks, delivering messages to handle one at a time until ctx is
// cancelled. The worker process is a single consumer processing a
// single in-flight submission — no internal concurrency across
// deliveries.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	deliveries, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting consume on %s: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%w: delivery channel closed", ErrUnavailable)
			}

			if delivery.Redelivered {
				log.Warn().Str("queue", c.queue).Msg("processing redelivered submission")
				if c.OnRedelivered != nil {
					c.OnRedelivered()
				}
			}

			var env Envelope
			if err := json.Unmarshal(delivery.Body, &env); err != nil {
				log.Error().Err(err).Msg("malformed submission envelope, dropping")
				_ = delivery.Nack(false, false)
				continue
			}

			// Shutdown must let the in-flight submission finish and be
			// acked; ctx cancellation only stops the pull of the next
			// delivery, so the handler runs detached from it.
			if err := handle(context.WithoutCancel(ctx), env); err != nil {
				log.Error().Err(err).Str("submission_id", env.SubmissionID).Msg("submission processing failed, requeueing")
				_ = delivery.Nack(false, true)
				continue
			}

			if err := delivery.Ack(false); err != nil {
				log.Error().Err(err).Str("submission_id", env.SubmissionID).Msg("failed to ack delivery")
			}
		}
	}
}

// Close shuts down the channel and connection.
func (c *Consumer) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
