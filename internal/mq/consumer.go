package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPermanent помечает ошибку, после которой повтор бессмыслен.
// Такое сообщение отклоняется без requeue и уходит в DLQ.
var ErrPermanent = errors.New("permanent failure")

// Permanent оборачивает err в ErrPermanent.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Handler — обработчик сообщения. nil — ack, ошибка — nack.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	Queue   Queue
	Handler Handler

	// Prefetch — сообщений без ack на канал (default: 1).
	Prefetch int
}

// Consumer потребляет сообщения из очереди и переживает переподключения.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    Queue
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   logger.With("component", "consumer", "queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start потребляет сообщения до отмены ctx или вызова Stop.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for {
		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to subscribe", "error", err)
		} else {
			c.logger.Info("consumer started")
			c.drain(ctx, deliveries)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("deliveries interrupted, waiting for reconnect")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		string(c.queue),
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return deliveries, nil
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				return
			}
			c.handle(ctx, raw)
		}
	}
}

// handle обрабатывает одно сообщение и подтверждает его.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message", "error", err, "body", string(raw.Body))
		c.settle(raw, Permanent(err))
		return
	}

	c.logger.Debug("received message", "message_id", msg.ID, "type", msg.Type)

	err := c.handler(ctx, &Delivery{Message: msg, Raw: raw})
	if err != nil {
		c.logger.Error("handler failed",
			"message_id", msg.ID,
			"type", msg.Type,
			"redelivered", raw.Redelivered,
			"error", err,
		)
	}
	c.settle(raw, err)
}

func (c *Consumer) settle(raw amqp.Delivery, err error) {
	var ackErr error
	switch outcome(err, raw.Redelivered) {
	case outcomeAck:
		ackErr = raw.Ack(false)
	case outcomeRequeue:
		ackErr = raw.Nack(false, true)
	case outcomeDeadLetter:
		ackErr = raw.Nack(false, false)
	}
	if ackErr != nil {
		c.logger.Warn("failed to settle delivery", "error", ackErr)
	}
}

type deliveryOutcome int

const (
	outcomeAck deliveryOutcome = iota
	outcomeRequeue
	outcomeDeadLetter
)

// outcome решает судьбу сообщения.
// Временная ошибка даёт одну повторную доставку, затем сообщение уходит в DLQ.
func outcome(err error, redelivered bool) deliveryOutcome {
	switch {
	case err == nil:
		return outcomeAck
	case errors.Is(err, ErrPermanent), redelivered:
		return outcomeDeadLetter
	default:
		return outcomeRequeue
	}
}

// ParsePayload декодирует payload сообщения в T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
