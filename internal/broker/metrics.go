package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the durable publish and consume paths.
type Metrics struct {
	Published       prometheus.Counter
	PublishFailures prometheus.Counter
	Consumed        prometheus.Counter
	Acked           prometheus.Counter
	Requeued        prometheus.Counter
	DecodeFailures  prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "captable_broker_published_total",
			Help: "Total number of messages published to the broker",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "captable_broker_publish_failures_total",
			Help: "Total number of publishes dropped due to transport failure",
		}),
		Consumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "captable_broker_consumed_total",
			Help: "Total number of deliveries received from the broker",
		}),
		Acked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "captable_broker_acked_total",
			Help: "Total number of deliveries acknowledged",
		}),
		Requeued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "captable_broker_requeued_total",
			Help: "Total number of deliveries negatively acknowledged with requeue",
		}),
		DecodeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "captable_broker_decode_failures_total",
			Help: "Total number of deliveries dropped because the body did not parse",
		}),
	}
}
