package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RelayTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lume_relay_total",
			Help: "Outbox relay outcomes by result and entity kind",
		},
		[]string{"result", "kind"}, // success|retry|failed , measurement|workout|sample
	)

	SourceSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lume_source_sync_total",
			Help: "External-source sync record counts by source and outcome",
		},
		[]string{"source", "outcome"}, // steps|heart_rate|sleep , saved|duplicate|fetch_error
	)

	CleanupOrphansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lume_outbox_cleanup_orphans_total",
			Help: "Completed events found by the cleanup sweep; nonzero means the immediate delete after relay did not run",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		RelayTotal,
		SourceSyncTotal,
		CleanupOrphansTotal,
	)
}
