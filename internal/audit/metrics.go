package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts trail writes on the broker path.
type Metrics struct {
	RecordsWritten prometheus.Counter
	Duplicates     prometheus.Counter
	WriteFailures  prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		RecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "captable_audit_records_written_total",
			Help: "Audit records persisted to the trail",
		}),
		Duplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "captable_audit_duplicates_total",
			Help: "Redelivered events skipped because the event ID already exists",
		}),
		WriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "captable_audit_write_failures_total",
			Help: "Audit records that failed to persist",
		}),
	}
}
