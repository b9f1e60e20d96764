// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package tsengine

import "github.com/prometheus/client_golang/prometheus"

// metrics bundles the engine's Prometheus collectors, registered through
// constructor injection the way pkg/store/multitsdb.go's
// NewMultiTSDBStore takes a prometheus.Registerer rather than reaching
// for the global default registry.
type metrics struct {
	samplesAppended   prometheus.Counter
	appendErrors      *prometheus.CounterVec
	rulesFinalized    prometheus.Counter
	chunksDropped     prometheus.Counter
	queriesTotal      *prometheus.CounterVec
	querySamplesTotal prometheus.Counter
	snapshotBytes     prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		samplesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsengine_samples_appended_total",
			Help: "Total number of samples appended across all series.",
		}),
		appendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsengine_append_errors_total",
			Help: "Total number of rejected append attempts, by error kind.",
		}, []string{"kind"}),
		rulesFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsengine_rule_buckets_finalized_total",
			Help: "Total number of compaction-rule buckets finalized into a destination series.",
		}),
		chunksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsengine_retention_chunks_dropped_total",
			Help: "Total number of chunks dropped by retention eviction.",
		}),
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsengine_queries_total",
			Help: "Total number of queries served, by command.",
		}, []string{"command"}),
		querySamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsengine_query_samples_total",
			Help: "Total number of samples returned across all queries.",
		}),
		snapshotBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tsengine_last_snapshot_bytes",
			Help: "Size in bytes of the most recently produced snapshot blob.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.samplesAppended,
			m.appendErrors,
			m.rulesFinalized,
			m.chunksDropped,
			m.queriesTotal,
			m.querySamplesTotal,
			m.snapshotBytes,
		)
	}
	return m
}
