// Package mq — транспорт уведомлений о runs поверх RabbitMQ.
//
// Структура:
//   - connection.go — соединение с переподключением
//   - topology.go   — exchanges, очереди, bindings
//   - publisher.go  — публикация run.pending
//   - consumer.go   — потребление с ack/nack и DLQ
//
// Сообщение несёт только run_id. Очередь ускоряет доставку,
// но не является источником истины: workers дополнительно опрашивают БД.
package mq
