// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics counts what one pipeline run ingested, dropped, and resolved.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Run holds the counters for a single pipeline invocation. Each run gets its
// own registry; nothing survives across invocations.
type Run struct {
	registry *prometheus.Registry

	RowsRead        *prometheus.CounterVec
	Chunks          *prometheus.CounterVec
	Excluded        prometheus.Counter
	DecodeAnomalies prometheus.Counter
	MappingEntries  *prometheus.GaugeVec
}

// NewRun builds a registry with the pipeline counter set.
func NewRun() *Run {
	r := &Run{registry: prometheus.NewRegistry()}

	r.RowsRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "longview_rows_read_total",
		Help: "Event rows read, per source database.",
	}, []string{"database"})
	r.Chunks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "longview_chunks_total",
		Help: "Row chunks produced, per source database.",
	}, []string{"database"})
	r.Excluded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "longview_records_excluded_total",
		Help: "Records dropped by the domain exclusion pattern.",
	})
	r.DecodeAnomalies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "longview_decode_anomalies_total",
		Help: "Fields tolerated with replacement or NaN semantics.",
	})
	r.MappingEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "longview_mapping_entries",
		Help: "Entries loaded per mapping table.",
	}, []string{"table"})

	r.registry.MustRegister(r.RowsRead, r.Chunks, r.Excluded, r.DecodeAnomalies, r.MappingEntries)
	return r
}

// Snapshot flattens the registry into "name{label=value}" -> value pairs for
// end-of-run logging.
func (r *Run) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	families, err := r.registry.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%s", lp.GetName(), lp.GetValue()))
			}
			sort.Strings(labels)
			name := mf.GetName()
			if len(labels) > 0 {
				name = fmt.Sprintf("%s{%s}", name, strings.Join(labels, ","))
			}
			switch {
			case m.GetCounter() != nil:
				out[name] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[name] = m.GetGauge().GetValue()
			}
		}
	}
	return out
}
