// Package scheduler manages the two background goroutines that keep
// settlements flowing:
//  1. reconcileLoop     – ticks the pending-bet table against the chain head.
//  2. streamMonitorLoop – forces a full stream reset when the supervisor's own
//     recovery has been stuck past the hard staleness bound.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/chain"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/config"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/service"
)

// Scheduler runs the periodic side of the settlement pipeline.  Call
// Start(ctx) once from main(); cancel the context to shut it down gracefully.
type Scheduler struct {
	reconciler *service.Reconciler
	supervisor *chain.Supervisor
	cfg        *config.Config
	logger     *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	reconciler *service.Reconciler,
	supervisor *chain.Supervisor,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		reconciler: reconciler,
		supervisor: supervisor,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start launches the background goroutines.  It returns immediately; both
// loops run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.reconcileLoop(ctx)
	go s.streamMonitorLoop(ctx)
	s.logger.Info("scheduler started",
		"tick", s.cfg.Settler.TickInterval, "monitor", s.cfg.Settler.MonitorInterval)
}

// ──────────────────────────────────────────────────────────────────────────────
// reconcileLoop
// ──────────────────────────────────────────────────────────────────────────────

// reconcileLoop ticks the reconciler on a fixed interval.  The tick itself
// reads the head height and dispatches due commitments; a failed tick is just
// skipped, the next one retries everything still tracked.
func (s *Scheduler) reconcileLoop(ctx context.Context) {
	defer s.recoverAndLog("reconcileLoop")

	ticker := time.NewTicker(s.cfg.Settler.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconcileLoop: shutting down")
			return
		case <-ticker.C:
			s.reconciler.Tick(ctx)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// streamMonitorLoop
// ──────────────────────────────────────────────────────────────────────────────

// streamMonitorLoop is the second line of defence behind the supervisor's own
// heartbeat: if no block has arrived for ForceResetAfter — which covers the
// parked state after the supervisor exhausted its reconnect attempts — it
// kicks the supervisor into a fresh connect cycle.
func (s *Scheduler) streamMonitorLoop(ctx context.Context) {
	defer s.recoverAndLog("streamMonitorLoop")

	ticker := time.NewTicker(s.cfg.Settler.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("streamMonitorLoop: shutting down")
			return
		case <-ticker.C:
			s.checkStream()
		}
	}
}

// checkStream is the inner body of streamMonitorLoop, extracted so that the
// defer/recover in the loop catches panics correctly.
func (s *Scheduler) checkStream() {
	state := s.supervisor.State()
	age := state.BlockAge(time.Now())
	if age < s.cfg.Settler.ForceResetAfter {
		return
	}

	s.logger.Error("stream stuck beyond hard staleness bound, forcing reset",
		"block_age", age.Round(time.Second),
		"connected", state.Connected,
		"reconnect_attempts", state.ReconnectAttempts)
	s.supervisor.ForceReset()
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each goroutine to catch unexpected panics,
// log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
