package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry            *prometheus.Registry
	rendersTotal        *prometheus.CounterVec
	renderDuration      *prometheus.HistogramVec
	activeRenders       prometheus.Gauge
	variantCacheTotal   *prometheus.CounterVec
	mirrorUploadsTotal  *prometheus.CounterVec
	webhookDeliveries   *prometheus.CounterVec
	pixelsRenderedTotal prometheus.Counter
	bytesWrittenTotal   prometheus.Counter
	computeTimeMSTotal  prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		rendersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelgate_worker_renders_total",
			Help: "Total warm renders by final status.",
		}, []string{"status"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelgate_worker_render_duration_seconds",
			Help:    "Duration of each warm render task.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeRenders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelgate_worker_active_renders",
			Help: "Current number of renders holding a worker slot.",
		}),
		variantCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelgate_worker_variant_cache_total",
			Help: "Local variant lookups by backend and outcome.",
		}, []string{"backend", "outcome"}),
		mirrorUploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelgate_worker_mirror_uploads_total",
			Help: "Variant uploads to the mirror bucket by status.",
		}, []string{"status"}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelgate_worker_webhook_deliveries_total",
			Help: "Render callbacks by event and delivery status.",
		}, []string{"event", "status"}),
		pixelsRenderedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelgate_usage_pixels_rendered_total",
			Help: "Total pixels in variants produced by successful renders.",
		}),
		bytesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelgate_usage_bytes_written_total",
			Help: "Total variant bytes produced by successful renders.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelgate_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful renders.",
		}),
	}

	registry.MustRegister(
		m.rendersTotal,
		m.renderDuration,
		m.activeRenders,
		m.variantCacheTotal,
		m.mirrorUploadsTotal,
		m.webhookDeliveries,
		m.pixelsRenderedTotal,
		m.bytesWrittenTotal,
		m.computeTimeMSTotal,
	)
	return m
}

// ObserveRender counts local variant cache outcomes.
func (m *metrics) ObserveRender(backend, outcome string) {
	m.variantCacheTotal.WithLabelValues(backend, outcome).Inc()
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
