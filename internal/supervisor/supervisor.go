// Package supervisor implements component H, the worker supervisor: it
// watches producer liveness in the ingest registry and drives the
// running/restarting/stopped lifecycle on heartbeat timeout, with exponential
// backoff and a restart-burst budget.
package supervisor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/flipdotd/flipdotd/internal/audit"
	"github.com/flipdotd/flipdotd/internal/ingest"
)

// ErrExhausted is recorded as a producer's last_error when it is moved to
// stopped after exceeding the restart burst budget (spec.md §4.H).
var ErrExhausted = errors.New("supervisor: exceeded restart budget")

// Runner starts and stops a locally-managed producer task by id. Producers
// with no matching Runner (the common case: off-box producers the supervisor
// only observes) are tracked for liveness but never actually restarted —
// status still cycles through restarting, but Start/Stop are skipped.
type Runner interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
}

// Config holds the tunables of spec.md §4.H.
type Config struct {
	Tick             time.Duration // liveness scan interval, default 2s
	HeartbeatTimeout time.Duration // default 10s
	BackoffBase      time.Duration // default 1s
	BackoffMax       time.Duration // default 30s
	BurstLimit       int           // default 5
	BurstWindow      time.Duration // default 60s
	StartStopTimeout time.Duration // default 2s
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 2 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = 5
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = 60 * time.Second
	}
	if c.StartStopTimeout <= 0 {
		c.StartStopTimeout = 2 * time.Second
	}
	return c
}

// Supervisor periodically scans a *ingest.Registry for running producers
// whose heartbeat has gone stale.
type Supervisor struct {
	reg    *ingest.Registry
	runner Runner
	cfg    Config

	mu             sync.Mutex
	restartHistory map[string][]time.Time
	inFlight       map[string]bool

	audit *audit.Log
}

// SetAuditLog attaches an audit trail; restarts and budget exhaustion are
// recorded to it from then on. Nil is a valid value and disables recording.
func (s *Supervisor) SetAuditLog(l *audit.Log) {
	s.audit = l
}

func (s *Supervisor) recordAudit(kind audit.Kind, producerID, detail string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(kind, producerID, detail, time.Now()); err != nil {
		log.Printf("supervisor: audit record %s: %v", kind, err)
	}
}

// New returns a Supervisor watching reg. runner may be nil if no producer is
// locally managed.
func New(reg *ingest.Registry, runner Runner, cfg Config) *Supervisor {
	return &Supervisor{
		reg:            reg,
		runner:         runner,
		cfg:            cfg.withDefaults(),
		restartHistory: make(map[string][]time.Time),
		inFlight:       make(map[string]bool),
	}
}

// Run blocks, scanning producer liveness every cfg.Tick until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()
	log.Printf("supervisor: watching producers, tick=%s heartbeat_timeout=%s", s.cfg.Tick, s.cfg.HeartbeatTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			s.scan(ctx, now)
		}
	}
}

func (s *Supervisor) scan(ctx context.Context, now time.Time) {
	for _, p := range s.reg.List() {
		if p.Status != ingest.StatusRunning || p.LastHeartbeat.IsZero() {
			continue
		}
		if now.Sub(p.LastHeartbeat) <= s.cfg.HeartbeatTimeout {
			continue
		}
		s.mu.Lock()
		already := s.inFlight[p.ID]
		if !already {
			s.inFlight[p.ID] = true
		}
		s.mu.Unlock()
		if already {
			continue
		}
		go s.restart(ctx, p.ID)
	}
}

// restart runs one restart cycle for producer id: backoff accounting, the
// burst-budget check, and (if a Runner is registered) the stop/start pair.
func (s *Supervisor) restart(ctx context.Context, id string) {
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, id)
		s.mu.Unlock()
	}()

	s.reg.SetStatus(id, ingest.StatusRestarting)
	log.Printf("supervisor[%s]: heartbeat timeout, restarting", id)

	if s.exceededBudget(id) {
		s.reg.SetStatus(id, ingest.StatusStopped)
		s.reg.SetLastError(id, ErrExhausted.Error())
		log.Printf("supervisor[%s]: %v", id, ErrExhausted)
		s.recordAudit(audit.KindSupervisorExhausted, id, ErrExhausted.Error())
		return
	}

	restartCount := s.reg.IncRestart(id)
	s.recordAudit(audit.KindSupervisorRestart, id, "heartbeat timeout")
	backoff := s.backoffFor(restartCount)
	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	if s.runner != nil {
		stopCtx, cancel := context.WithTimeout(ctx, s.cfg.StartStopTimeout)
		err := s.runner.Stop(stopCtx, id)
		cancel()
		if err != nil {
			log.Printf("supervisor[%s]: stop: %v", id, err)
		}

		startCtx, cancel2 := context.WithTimeout(ctx, s.cfg.StartStopTimeout)
		defer cancel2()
		if err := s.runner.Start(startCtx, id); err != nil {
			s.reg.SetLastError(id, err.Error())
			log.Printf("supervisor[%s]: start failed: %v", id, err)
			return
		}
	}

	s.reg.SetStatus(id, ingest.StatusRunning)
	log.Printf("supervisor[%s]: restarted (attempt %d)", id, restartCount)
}

// exceededBudget records a restart attempt now and reports whether id has
// exceeded BurstLimit restarts within BurstWindow.
func (s *Supervisor) exceededBudget(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-s.cfg.BurstWindow)
	hist := s.restartHistory[id]
	kept := hist[:0]
	for _, ts := range hist {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	s.restartHistory[id] = kept
	return len(kept) > s.cfg.BurstLimit
}

// backoffFor returns the exponential backoff for the nth restart attempt,
// clamped to BackoffMax.
func (s *Supervisor) backoffFor(attempt int) time.Duration {
	d := s.cfg.BackoffBase
	for i := 1; i < attempt && d < s.cfg.BackoffMax; i++ {
		d *= 2
	}
	if d > s.cfg.BackoffMax {
		d = s.cfg.BackoffMax
	}
	return d
}
