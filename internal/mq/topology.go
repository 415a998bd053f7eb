package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns Exchange = "orderpipe.runs"
	ExchangeDLQ  Exchange = "orderpipe.dlq"
)

// Queues — имена очередей.
const (
	QueueRunsPending Queue = "runs.pending"
	QueueDLQRuns     Queue = "dlq.runs"
)

// Routing keys.
const (
	RoutingKeyPending RoutingKey = "pending"
	RoutingKeyDLQRuns RoutingKey = "runs"
)

type exchangeSpec struct {
	name Exchange
	kind string
}

type queueSpec struct {
	name Queue
	args amqp.Table
}

type bindingSpec struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

func exchanges() []exchangeSpec {
	return []exchangeSpec{
		{ExchangeRuns, amqp.ExchangeDirect},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}
}

func queues() []queueSpec {
	return []queueSpec{
		// runs.pending — отклонённые без requeue сообщения уходят в dlq.runs.
		{QueueRunsPending, amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
		}},
		{QueueDLQRuns, nil},
	}
}

func bindings() []bindingSpec {
	return []bindingSpec{
		{QueueRunsPending, RoutingKeyPending, ExchangeRuns},
		{QueueDLQRuns, RoutingKeyDLQRuns, ExchangeDLQ},
	}
}

// SetupTopology объявляет exchanges, очереди и bindings. Операция идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range exchanges() {
			err := ch.ExchangeDeclare(
				string(ex.name), // name
				ex.kind,         // type
				true,            // durable
				false,           // auto-deleted
				false,           // internal
				false,           // no-wait
				nil,             // arguments
			)
			if err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, q := range queues() {
			_, err := ch.QueueDeclare(
				string(q.name), // name
				true,           // durable
				false,          // delete when unused
				false,          // exclusive
				false,          // no-wait
				q.args,         // arguments
			)
			if err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		for _, b := range bindings() {
			err := ch.QueueBind(
				string(b.queue),      // queue name
				string(b.routingKey), // routing key
				string(b.exchange),   // exchange
				false,                // no-wait
				nil,                  // arguments
			)
			if err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  orderpipe RabbitMQ topology:

    orderpipe.runs (direct)
    └── runs.pending [routing: pending]
            Consumer: orderpipe-worker
            DLQ: dlq.runs

    orderpipe.dlq (direct)
    └── dlq.runs [routing: runs]
            Manual processing
  `
}
