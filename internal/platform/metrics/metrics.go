// Package metrics holds the Prometheus collectors shared by the progress
// services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	flushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chess_progress_flush_total",
		Help: "Progress flush attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure|coalesced|empty

	recordsFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chess_progress_records_flushed_total",
		Help: "Progress records written to the store of record",
	})

	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chess_progress_reconcile_total",
		Help: "Session reconciliations by data source",
	}, []string{"source"}) // source=merged|local_only

	localCacheDiscards = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chess_progress_local_cache_discards_total",
		Help: "Corrupt local cache entries discarded during reconciliation",
	})

	dirtyRecords = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chess_progress_dirty_records",
		Help:    "Dirty records left in a session after each flush",
		Buckets: []float64{0, 1, 5, 10, 50, 100, 500},
	})

	openSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chess_playback_open_sessions",
		Help: "Learner sessions currently hosted by the playback gateway",
	})

	storeUpserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chess_progress_store_upserts_total",
		Help: "Store of record upserts by outcome",
	}, []string{"outcome"}) // outcome=applied|stale|queued|failure|duplicate
)

func RecordFlush(outcome string) { flushTotal.WithLabelValues(outcome).Inc() }

func AddRecordsFlushed(n int) {
	if n > 0 {
		recordsFlushed.Add(float64(n))
	}
}

func RecordReconcile(source string) { reconcileTotal.WithLabelValues(source).Inc() }

func RecordLocalCacheDiscard() { localCacheDiscards.Inc() }

// ObserveDirtyRecords records the dirty-set size at the end of a flush.
func ObserveDirtyRecords(n int) { dirtyRecords.Observe(float64(n)) }

func SetOpenSessions(n int) { openSessions.Set(float64(n)) }

func RecordStoreUpsert(outcome string, n int) {
	if n > 0 {
		storeUpserts.WithLabelValues(outcome).Add(float64(n))
	}
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
