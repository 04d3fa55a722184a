package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubsetRetrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waterstack_subset_retrievals_total",
			Help: "Total raster subset retrieval attempts",
		},
		[]string{"variable", "status"},
	)

	SubsetRetrievalLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waterstack_subset_retrieval_latency_seconds",
			Help:    "Raster subset retrieval latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"variable"},
	)

	YearsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waterstack_years_processed_total",
			Help: "Total (ROI, year) jobs processed",
		},
		[]string{"status"},
	)

	InterpolationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "waterstack_interpolation_seconds",
			Help:    "Time spent gap-filling one stack",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	PassCountLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waterstack_pass_count_lookups_total",
			Help: "Landsat pass-count catalog lookups",
		},
		[]string{"result"},
	)
)
