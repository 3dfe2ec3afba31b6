package broker

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// reconnectDelay paces reconnection attempts after a broker failure.
const reconnectDelay = 5 * time.Second

// Acker is the subset of amqp.Delivery the consumer needs to settle a
// message. Tests substitute a fake.
type Acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Consumer drains one durable queue and routes every delivery through the
// Router. Prefetch is pinned to 1 so a consumer holds at most one
// unacknowledged message, bounding in-flight work; throughput scales by
// running more consumer processes against the same queue.
type Consumer struct {
	url     string
	router  *Router
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerMetrics attaches Prometheus instrumentation.
func WithConsumerMetrics(m *Metrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

// NewConsumer creates a consumer for the broker at url.
func NewConsumer(url string, router *Router, logger *slog.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		url:    url,
		router: router,
		logger: logger,
		tracer: otel.Tracer("captable/broker"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Consume blocks, processing deliveries from queue until ctx is done. Broker
// failures trigger reconnection with a delay rather than an exit; the only
// return paths are context cancellation.
func (c *Consumer) Consume(ctx context.Context, queue string) error {
	for {
		if err := c.consumeOnce(ctx, queue); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("consumer connection lost, reconnecting",
				"queue", queue,
				"delay", reconnectDelay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
			}
			continue
		}
		return ctx.Err()
	}
}

// consumeOnce runs a single connection lifetime: connect, declare topology,
// set prefetch, then process deliveries until the channel closes or ctx is
// done.
func (c *Consumer) consumeOnce(ctx context.Context, queue string) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declareTopology(ch); err != nil {
		return err
	}

	// One unacknowledged message at a time: natural backpressure.
	if err := ch.Qos(1, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.Consume(
		queue,
		"",    // consumer tag (auto-generated)
		false, // manual ack, never auto
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	c.logger.Info("consuming", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return amqp.ErrClosed
			}
			c.handleDelivery(ctx, queue, d.Body, &d)
		}
	}
}

// handleDelivery decodes and routes one message, then settles it.
//
// Settlement rules:
//   - malformed body: ack and drop; redelivery cannot fix a payload that
//     does not parse
//   - handler reports success (or the message is unroutable): ack
//   - handler reports failure or panics: nack with requeue, making the
//     message immediately eligible for redelivery to any bound consumer
func (c *Consumer) handleDelivery(ctx context.Context, queue string, body []byte, acker Acker) {
	if c.metrics != nil {
		c.metrics.Consumed.Inc()
	}

	msg, err := DecodeMessage(body)
	if err != nil {
		c.logger.Error("dropping malformed message", "queue", queue, "error", err)
		if c.metrics != nil {
			c.metrics.DecodeFailures.Inc()
		}
		c.settle(acker, true)
		return
	}

	ctx, span := c.tracer.Start(ctx, "broker.consume", trace.WithAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.source", queue),
		attribute.String("event.type", msg.EventType),
		attribute.String("event.id", msg.EventID),
	))
	defer span.End()

	ok := c.route(ctx, msg)
	if ok {
		c.logger.Debug("message processed",
			"queue", queue,
			"event_type", msg.EventType,
			"event_id", msg.EventID,
		)
	} else {
		c.logger.Error("handler failed, requeueing message",
			"queue", queue,
			"event_type", msg.EventType,
			"event_id", msg.EventID,
		)
	}
	c.settle(acker, ok)
}

// route invokes the router, converting a handler panic into a requeue.
func (c *Consumer) route(ctx context.Context, msg Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked",
				"event_type", msg.EventType,
				"event_id", msg.EventID,
				"panic", r,
			)
			ok = false
		}
	}()
	return c.router.Handle(ctx, msg)
}

func (c *Consumer) settle(acker Acker, ok bool) {
	if ok {
		if err := acker.Ack(false); err != nil {
			c.logger.Error("failed to ack message", "error", err)
		}
		if c.metrics != nil {
			c.metrics.Acked.Inc()
		}
		return
	}
	if err := acker.Nack(false, true); err != nil {
		c.logger.Error("failed to nack message", "error", err)
	}
	if c.metrics != nil {
		c.metrics.Requeued.Inc()
	}
}
