// Package metrics 提供 Prometheus 指标，/metrics 暴露
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 同步批次
	SyncPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealerwatch_sync_passes_total",
			Help: "Total number of dealer reconciliation passes by status",
		},
		[]string{"status"},
	)

	SyncPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dealerwatch_sync_pass_duration_seconds",
			Help:    "Time taken by one dealer reconciliation pass",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	ListingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealerwatch_listing_events_total",
			Help: "Total number of history events written by type",
		},
		[]string{"event"},
	)

	ActiveListings = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dealerwatch_active_listings",
			Help: "Active listings per dealer after the last pass",
		},
		[]string{"dealer_id"},
	)

	// 异常检测
	AnomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealerwatch_anomalies_detected_total",
			Help: "Total number of anomalies detected by type",
		},
		[]string{"type"},
	)

	// 车牌识别
	PlateInferenceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealerwatch_plate_inference_total",
			Help: "Plate inference calls by result (accepted/rejected/failed/cached)",
		},
		[]string{"result"},
	)

	// 缓存
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealerwatch_cache_requests_total",
			Help: "Cache lookups by cache name and result (hit/miss)",
		},
		[]string{"cache", "result"},
	)

	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealerwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)
