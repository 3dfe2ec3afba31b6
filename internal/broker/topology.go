package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker topology. One topic exchange fans events out to three durable
// queues by routing-key prefix. Both publisher and consumer declare the full
// topology so either side can start first.
const (
	Exchange = "captable.events"

	QueueEvents        = "events"
	QueueAudit         = "audit_events"
	QueueNotifications = "notifications"
)

// bindings maps each durable queue to its routing-key pattern. Patterns use
// "#" because routing keys are multi-word ("audit.share.issued"); "*" only
// matches a single word.
var bindings = []struct {
	queue   string
	pattern string
}{
	{QueueEvents, "events.#"},
	{QueueAudit, "audit.#"},
	{QueueNotifications, "notification.#"},
}

// declareTopology declares the exchange, the durable queues, and their
// bindings on the given channel. Declarations are idempotent on the broker.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}

	for _, b := range bindings {
		if _, err := ch.QueueDeclare(
			b.queue,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.pattern, Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.pattern, err)
		}
	}
	return nil
}
