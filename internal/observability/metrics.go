// Package observability exposes process-wide Prometheus collectors for the import pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Import kinds recorded on ImportsCommitted.
const (
	KindUpload  = "upload"
	KindRestore = "restore"
	KindReplay  = "replay"
)

var (
	// ImportsCommitted counts imports that became current, by kind.
	ImportsCommitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "teamdash",
		Subsystem: "imports",
		Name:      "committed_total",
		Help:      "Number of snapshot imports committed, labeled by kind.",
	}, []string{"kind"})

	// ImportFailures counts rejected or failed imports, by reason.
	ImportFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "teamdash",
		Subsystem: "imports",
		Name:      "failed_total",
		Help:      "Number of snapshot imports that did not land, labeled by reason.",
	}, []string{"reason"})

	lastImportGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "teamdash",
		Subsystem: "imports",
		Name:      "last_committed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed import.",
	})
)

func init() {
	prometheus.MustRegister(ImportsCommitted, ImportFailures, lastImportGauge)
}

// RecordImportCommitted bumps the commit counter and the watermark gauge.
func RecordImportCommitted(kind string, ts time.Time) {
	ImportsCommitted.WithLabelValues(kind).Inc()
	if ts.IsZero() {
		return
	}
	lastImportGauge.Set(float64(ts.Unix()))
}

// RecordImportFailed bumps the failure counter.
func RecordImportFailed(reason string) {
	ImportFailures.WithLabelValues(reason).Inc()
}
