package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/flipdotd/flipdotd/internal/buffer"
	"github.com/flipdotd/flipdotd/internal/config"
	"github.com/flipdotd/flipdotd/internal/control"
	"github.com/flipdotd/flipdotd/internal/credit"
	"github.com/flipdotd/flipdotd/internal/dirty"
	"github.com/flipdotd/flipdotd/internal/ingest"
)

func collectAll(t *testing.T, c *Collector) map[string][]*dto.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)
	out := make(map[string][]*dto.Metric)
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			t.Fatal(err)
		}
		name := m.Desc().String()
		out[name] = append(out[name], &pb)
	}
	return out
}

func TestCollector_reportsStatsAndProducers(t *testing.T) {
	cfg := &config.Config{FPS: 30, FPSMax: 30, BufferMS: 500, PenaltyDivisor: 4}
	topo := &config.Topology{Canvas: config.Canvas{WidthPx: 28, HeightPx: 7}, FPS: 30}
	buf := buffer.New(buffer.CapacityForCadence(500, 30))
	bucket := credit.New(30, 4)
	reg := ingest.NewRegistry()
	coord := ingest.New(topo.Canvas, buf, bucket, reg, ingest.CadenceMs(30))
	dc := dirty.New()
	plane := control.New(cfg, topo, buf, bucket, coord, dc)

	plane.RecordForward()
	plane.RecordTick(10*time.Millisecond, false, 29.7)
	reg.Heartbeat("p1", time.Now())

	coll := NewCollector(plane, reg)
	metrics := collectAll(t, coll)

	var total int
	for _, ms := range metrics {
		total += len(ms)
	}
	if total == 0 {
		t.Fatal("expected at least one metric sample")
	}

	foundRestarts := false
	for desc, ms := range metrics {
		if desc == coll.producerRestarts.String() {
			foundRestarts = true
			if len(ms) != 1 {
				t.Fatalf("expected one producer_restarts sample, got %d", len(ms))
			}
		}
	}
	if !foundRestarts {
		t.Fatal("expected a producer_restarts metric for the heartbeating producer")
	}
}

func TestCollector_describeEmitsAllDescs(t *testing.T) {
	coll := NewCollector(nil, nil)
	ch := make(chan *prometheus.Desc, 16)
	coll.Describe(ch)
	close(ch)
	count := 0
	for range ch {
		count++
	}
	if count != 9 {
		t.Fatalf("Describe emitted %d descs, want 9", count)
	}
}
