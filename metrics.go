// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package bulkload

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricBatchesTotal         = "batches_total"
	MetricDocumentsTotal       = "documents_total"
	MetricInFlightBatches      = "inflight_batches"
	MetricBatchDurationSeconds = "batch_duration_seconds"
)

// CounterBatches counts finished batch writes by result ("ok" or "error").
var CounterBatches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "bulkload",
		Name:      MetricBatchesTotal,
		Help:      "Number of batch writes, by result.",
	},
	[]string{
		"result",
	},
)

// CounterDocuments counts documents of successfully tallied batches by
// outcome ("created" or "failed").
var CounterDocuments = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "bulkload",
		Name:      MetricDocumentsTotal,
		Help:      "Number of documents written, by outcome.",
	},
	[]string{
		"outcome",
	},
)

var GaugeInFlightBatches = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "bulkload",
		Name:      MetricInFlightBatches,
		Help:      "Number of batch writes currently holding a throttle permit.",
	},
)

var HistogramBatchDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "bulkload",
		Name:      MetricBatchDurationSeconds,
		Help:      "Time taken by a single batch write.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	},
)

func init() {
	prometheus.MustRegister(CounterBatches)
	prometheus.MustRegister(CounterDocuments)
	prometheus.MustRegister(GaugeInFlightBatches)
	prometheus.MustRegister(HistogramBatchDuration)
}
