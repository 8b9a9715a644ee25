// Package metrics exports flipdotd's statistics snapshot and producer
// registry as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flipdotd/flipdotd/internal/control"
	"github.com/flipdotd/flipdotd/internal/ingest"
)

const namespace = "flipdotd"

// Collector is a prometheus.Collector that reads the control plane's stats
// snapshot and the ingest registry on every scrape, rather than being pushed
// to on every tick — the dispatcher and ingest coordinator stay free of any
// metrics-library dependency.
type Collector struct {
	plane *control.Plane
	reg   *ingest.Registry

	received         *prometheus.Desc
	forwarded        *prometheus.Desc
	dropped          *prometheus.Desc
	effectiveFPS     *prometheus.Desc
	bufferLevel      *prometheus.Desc
	lastTickDuration *prometheus.Desc
	degraded         *prometheus.Desc
	producerRestarts *prometheus.Desc
	producerUp       *prometheus.Desc
}

// NewCollector builds a Collector over plane and reg. Register it with
// prometheus.Register (or a custom Registerer) once, at startup.
func NewCollector(plane *control.Plane, reg *ingest.Registry) *Collector {
	return &Collector{
		plane: plane,
		reg:   reg,
		received: prometheus.NewDesc(
			namespace+"_frames_received_total", "Total frames accepted by ingest, across all producers.", nil, nil),
		forwarded: prometheus.NewDesc(
			namespace+"_frames_forwarded_total", "Total frames the dispatcher actually wrote to the bus.", nil, nil),
		dropped: prometheus.NewDesc(
			namespace+"_frames_dropped_total", "Total frames dropped (buffer overflow or transport failure).", nil, nil),
		effectiveFPS: prometheus.NewDesc(
			namespace+"_effective_fps", "Exponential moving average of the dispatcher's actual tick rate.", nil, nil),
		bufferLevel: prometheus.NewDesc(
			namespace+"_buffer_level", "Current occupancy of the keep-latest frame buffer.", nil, nil),
		lastTickDuration: prometheus.NewDesc(
			namespace+"_last_tick_duration_seconds", "Wall-clock duration of the dispatcher's most recent tick.", nil, nil),
		degraded: prometheus.NewDesc(
			namespace+"_degraded", "1 if the dispatcher is in the degraded state, 0 otherwise.", nil, nil),
		producerRestarts: prometheus.NewDesc(
			namespace+"_producer_restarts_total", "Restart attempts for a producer task.", []string{"producer_id"}, nil),
		producerUp: prometheus.NewDesc(
			namespace+"_producer_up", "1 if the producer's last known status is running, 0 otherwise.", []string{"producer_id"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.received
	ch <- c.forwarded
	ch <- c.dropped
	ch <- c.effectiveFPS
	ch <- c.bufferLevel
	ch <- c.lastTickDuration
	ch <- c.degraded
	ch <- c.producerRestarts
	ch <- c.producerUp
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.plane.Stats()
	ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(stats.Received))
	ch <- prometheus.MustNewConstMetric(c.forwarded, prometheus.CounterValue, float64(stats.Forwarded))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(stats.Dropped))
	ch <- prometheus.MustNewConstMetric(c.effectiveFPS, prometheus.GaugeValue, stats.EffectiveFPS)
	ch <- prometheus.MustNewConstMetric(c.bufferLevel, prometheus.GaugeValue, float64(stats.BufferLevel))
	ch <- prometheus.MustNewConstMetric(c.lastTickDuration, prometheus.GaugeValue, stats.LastTickDuration.Seconds())
	ch <- prometheus.MustNewConstMetric(c.degraded, prometheus.GaugeValue, boolToFloat(stats.Degraded))

	for _, p := range c.reg.List() {
		ch <- prometheus.MustNewConstMetric(c.producerRestarts, prometheus.CounterValue, float64(p.RestartCount), p.ID)
		ch <- prometheus.MustNewConstMetric(c.producerUp, prometheus.GaugeValue, boolToFloat(p.Status == ingest.StatusRunning), p.ID)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Register registers a Collector for plane/reg against reg, the standard
// default registry unless a different one is supplied by the caller.
func Register(registerer prometheus.Registerer, plane *control.Plane, reg *ingest.Registry) error {
	return registerer.Register(NewCollector(plane, reg))
}

// Handler returns the standard promhttp scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
