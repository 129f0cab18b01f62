// ABOUTME: Link supervisor: RX watchdog with reconnect plus the periodic sync ticker
// ABOUTME: Ticks independently of the data plane and stops with the gateway context

package supervisor

import (
	"context"
	"log/slog"
	"time"
)

// Syncer is the slice of the replication engine the ticker drives.
type Syncer interface {
	Enabled() bool
	SendInventories(ctx context.Context) error
	PruneRx(ctx context.Context)
}

// RxClock reports receive liveness, usually backed by intake.
type RxClock interface {
	LastRX() (time.Time, bool)
	ResetLastRX()
}

// Reconnector re-establishes the radio link.
type Reconnector interface {
	Reconnect() error
}

// Supervisor runs the watchdog and sync ticker loops.
type Supervisor struct {
	sync   Syncer
	clock  RxClock
	link   Reconnector
	logger *slog.Logger

	syncPeriod time.Duration
	watchTick  time.Duration
	rxStale    time.Duration
}

// New creates a supervisor.
func New(sync Syncer, clock RxClock, link Reconnector, syncPeriod, watchTick, rxStale time.Duration, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		sync:       sync,
		clock:      clock,
		link:       link,
		logger:     logger.With("component", "supervisor"),
		syncPeriod: syncPeriod,
		watchTick:  watchTick,
		rxStale:    rxStale,
	}
}

// RunSyncTicker broadcasts inventories every sync period while enabled,
// and garbage-collects stale reassembly buffers on the same cadence.
// Blocks until ctx is cancelled.
func (s *Supervisor) RunSyncTicker(ctx context.Context) {
	ticker := time.NewTicker(s.syncPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sync.PruneRx(ctx)
			if !s.sync.Enabled() {
				continue
			}
			if err := s.sync.SendInventories(ctx); err != nil {
				s.logger.Warn("inventory tick failed", "error", err)
			}
		}
	}
}

// RunWatchdog reconnects the link when receive has been silent past the
// stale threshold. A fresh connection restarts the clock so one stall
// triggers one reconnect. Blocks until ctx is cancelled.
func (s *Supervisor) RunWatchdog(ctx context.Context) {
	ticker := time.NewTicker(s.watchTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkOnce()
		}
	}
}

// checkOnce runs one watchdog evaluation.
func (s *Supervisor) checkOnce() {
	last, ok := s.clock.LastRX()
	if !ok {
		// Nothing received yet; the radio may legitimately be quiet
		// right after startup.
		return
	}

	silent := time.Since(last)
	if silent <= s.rxStale {
		return
	}

	s.logger.Warn("rx silent past threshold, reconnecting",
		"silent", silent.Round(time.Second), "threshold", s.rxStale)

	if err := s.link.Reconnect(); err != nil {
		s.logger.Error("reconnect failed", "error", err)
		return
	}
	s.clock.ResetLastRX()
	s.logger.Info("radio reconnected by watchdog")
}
