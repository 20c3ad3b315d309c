package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type SegmentCacheMetrics struct {
	StreamsActive        prometheus.Gauge
	SegmentsResident     prometheus.Gauge
	ResidentBytes        *prometheus.GaugeVec
	SegmentPublishCount  *prometheus.CounterVec
	PublishFailureCount  *prometheus.CounterVec
	ManifestPublishCount prometheus.Counter
	ManifestCopyCount    *prometheus.CounterVec
	AcquireCount         *prometheus.CounterVec
	BackingFallbackCount prometheus.Counter
	HandleMisuseCount    prometheus.Counter
	EvictionCount        *prometheus.CounterVec
	SweepDurationSec     prometheus.Histogram
}

type CacheServerMetrics struct {
	SegmentCache SegmentCacheMetrics

	HTTPInternalRequestCount *prometheus.CounterVec
}

func NewMetrics() *CacheServerMetrics {
	m := &CacheServerMetrics{
		SegmentCache: SegmentCacheMetrics{
			StreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "segment_cache_streams",
				Help: "The number of streams currently held in the segment cache",
			}),
			SegmentsResident: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "segment_cache_segments",
				Help: "The number of segments currently held in memory, including orphaned ones still referenced",
			}),
			ResidentBytes: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "segment_cache_resident_bytes",
				Help: "Bytes of segment data held in memory, broken up by backing kind",
			}, []string{"backing"}),
			SegmentPublishCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "segment_cache_publish_count",
				Help: "The total number of segments published, broken up by backing kind",
			}, []string{"backing"}),
			PublishFailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "segment_cache_publish_failure_count",
				Help: "The total number of rejected segment or manifest publications",
			}, []string{"reason"}),
			ManifestPublishCount: promauto.NewCounter(prometheus.CounterOpts{
				Name: "segment_cache_manifest_publish_count",
				Help: "The total number of manifest updates",
			}),
			ManifestCopyCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "segment_cache_manifest_copy_count",
				Help: "The total number of manifest snapshots requested, broken up by result",
			}, []string{"result"}),
			AcquireCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "segment_cache_acquire_count",
				Help: "The total number of segment acquires, broken up by result and miss reason",
			}, []string{"result", "reason"}),
			BackingFallbackCount: promauto.NewCounter(prometheus.CounterOpts{
				Name: "segment_cache_backing_fallback_count",
				Help: "The total number of segments that fell back to heap memory after shared memory allocation failed",
			}),
			HandleMisuseCount: promauto.NewCounter(prometheus.CounterOpts{
				Name: "segment_cache_handle_misuse_count",
				Help: "The total number of double releases or uses of a released segment handle",
			}),
			EvictionCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "segment_cache_eviction_count",
				Help: "The total number of entries reclaimed by the sweeper, broken up by tier",
			}, []string{"tier"}),
			SweepDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "segment_cache_sweep_duration_seconds",
				Help:    "Time taken by a single sweep pass",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			}),
		},

		HTTPInternalRequestCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_internal_request_count",
			Help: "The total number of requests to the internal API, broken up by route and status code",
		}, []string{"route", "status_code"}),
	}

	return m
}

var Metrics = NewMetrics()
