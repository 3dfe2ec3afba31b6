package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the in-process bus.
type Metrics struct {
	Published       prometheus.Counter
	Dropped         prometheus.Counter
	HandlerFailures prometheus.Counter
	QueueDepth      prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "captable_bus_events_published_total",
			Help: "Total number of events accepted by the in-process bus",
		}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "captable_bus_events_dropped_total",
			Help: "Total number of events dropped because the async queue was full",
		}),
		HandlerFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "captable_bus_handler_failures_total",
			Help: "Total number of handler invocations that returned an error or panicked",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "captable_bus_queue_depth",
			Help: "Current number of events waiting for the async worker",
		}),
	}
}
