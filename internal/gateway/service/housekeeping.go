package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/ledger"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/metrics"
)

// DefaultHousekeepingInterval is used when no interval is configured.
const DefaultHousekeepingInterval = time.Hour

// sweepTimeout bounds a single sweep so a stuck store cannot wedge Stop.
const sweepTimeout = time.Minute

// HousekeepingService periodically deletes expired refresh token records so
// the ledger does not grow without bound.
type HousekeepingService struct {
	Ledger   *ledger.Ledger
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Interval time.Duration

	started atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHousekeepingService falls back to DefaultHousekeepingInterval when
// interval is not positive.
func NewHousekeepingService(l *ledger.Ledger, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}

	return &HousekeepingService{
		Ledger:   l,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs a sweep straight away and then on every tick until Stop.
func (s *HousekeepingService) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress sweep has finished. Stopping a service
// that was never started is a no-op.
func (s *HousekeepingService) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *HousekeepingService) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.Logger.Error("failed to delete expired refresh tokens", "error", err)
	}
}

// RunOnce performs a single sweep and reports how many records went.
func (s *HousekeepingService) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.Ledger.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	s.Metrics.Swept(n)
	s.Logger.Info("housekeeping cleanup completed", "deleted", n)
	return n, nil
}
