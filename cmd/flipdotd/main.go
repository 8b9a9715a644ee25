// Command flipdotd paces 1-bit frames from remote producers onto a flip-dot
// panel wall over an RS-485 bus, at a fixed cadence, with bounded buffering
// and per-panel dirty-write suppression.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flipdotd/flipdotd/internal/audit"
	"github.com/flipdotd/flipdotd/internal/buffer"
	"github.com/flipdotd/flipdotd/internal/config"
	"github.com/flipdotd/flipdotd/internal/control"
	"github.com/flipdotd/flipdotd/internal/credit"
	"github.com/flipdotd/flipdotd/internal/dirty"
	"github.com/flipdotd/flipdotd/internal/dispatcher"
	"github.com/flipdotd/flipdotd/internal/ingest"
	"github.com/flipdotd/flipdotd/internal/metrics"
	"github.com/flipdotd/flipdotd/internal/supervisor"
	"github.com/flipdotd/flipdotd/internal/transport"
)

func main() {
	topologyPath := flag.String("topology", "", "path to canvas/topology file (overrides FLIPDOTD_TOPOLOGY)")
	listenAddr := flag.String("addr", "", "metrics/control listen address (overrides FLIPDOTD_LISTEN_ADDR)")
	serialDevice := flag.String("serial", "", "RS-485 serial device path (overrides FLIPDOTD_SERIAL_DEVICE; empty uses the mock transport)")
	flag.Parse()

	if err := config.LoadEnvFile(".env"); err != nil {
		log.Fatalf("flipdotd: load .env: %v", err)
	}
	cfg := config.Load()
	if *topologyPath != "" {
		cfg.TopologyPath = *topologyPath
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *serialDevice != "" {
		cfg.SerialDevice = *serialDevice
	}

	topo, err := config.LoadTopology(cfg.TopologyPath)
	if err != nil {
		log.Fatalf("flipdotd: load topology: %v", err)
	}

	auditLog, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		log.Fatalf("flipdotd: open audit db: %v", err)
	}
	defer auditLog.Close()
	auditArchive, err := audit.OpenRotating(cfg.AuditLogPath, cfg.AuditRotateBytes)
	if err != nil {
		log.Fatalf("flipdotd: open audit log: %v", err)
	}
	defer auditArchive.Close()
	auditLog.SetArchive(auditArchive)

	fps := topo.FPS
	if fps <= 0 {
		fps = cfg.FPS
	}
	fps = cfg.ClampFPS(fps)

	buf := buffer.New(buffer.CapacityForCadence(cfg.BufferMS, fps))
	bucket := credit.New(fps, cfg.PenaltyDivisor)
	registry := ingest.NewRegistry()
	coordinator := ingest.New(topo.Canvas, buf, bucket, registry, ingest.CadenceMs(fps))
	dirtyCache := dirty.New()

	plane := control.New(cfg, topo, buf, bucket, coordinator, dirtyCache)
	plane.SetAuditLog(auditLog)

	sink := newSink(cfg, topo)
	disp := dispatcher.New(plane, buf, topo, sink, dirtyCache, cfg.WriteTimeout)
	plane.SetTopologyObserver(disp.SetTopology)

	sup := supervisor.New(registry, nil, supervisor.Config{
		Tick:             cfg.SupervisorTick,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		BackoffBase:      cfg.RestartBackoffBase,
		BackoffMax:       cfg.RestartBackoffMax,
		BurstLimit:       cfg.RestartBurstLimit,
		BurstWindow:      cfg.RestartBurstWindow,
		StartStopTimeout: cfg.StartStopTimeout,
	})
	sup.SetAuditLog(auditLog)

	if err := metrics.Register(prometheus.DefaultRegisterer, plane, registry); err != nil {
		log.Fatalf("flipdotd: register metrics: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Printf("flipdotd: metrics listening on %s", cfg.ListenAddr)
		if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil && ctx.Err() == nil {
			log.Printf("flipdotd: metrics listener: %v", err)
		}
	}()

	go func() {
		if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("flipdotd: supervisor stopped: %v", err)
		}
	}()

	log.Printf("flipdotd: starting dispatcher at %d fps, %d panels", fps, len(topo.Panels))
	if err := disp.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("flipdotd: dispatcher stopped: %v", err)
	}
	log.Printf("flipdotd: shutting down")
}

func newSink(cfg *config.Config, topo *config.Topology) transport.Sink {
	device := cfg.SerialDevice
	if device == "" {
		device = topo.Serial.Device
	}
	if device == "" {
		log.Printf("flipdotd: no serial device configured, using mock transport")
		return transport.NewMockSink()
	}
	baud := cfg.SerialBaud
	if topo.Serial.BaudRate > 0 {
		baud = topo.Serial.BaudRate
	}
	return transport.NewSerialSink(transport.SerialConfig{
		Device:   device,
		BaudRate: baud,
		Parity:   topo.Serial.Parity,
		StopBits: topo.Serial.StopBits,
	})
}

