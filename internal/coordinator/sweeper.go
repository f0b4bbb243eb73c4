package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the background sweeper scans for
// expired leases.
const DefaultSweepInterval = time.Minute

// sweepTimeout bounds one sweep pass so a slow store cannot stall the
// ticker loop indefinitely.
const sweepTimeout = 30 * time.Second

// Sweeper runs Coordinator.Sweep on a fixed interval until stopped. A
// failed pass is logged and retried on the next tick; the loop itself
// never exits on error.
type Sweeper struct {
	coordinator *Coordinator
	interval    time.Duration
	logger      *zap.Logger

	active   atomic.Bool
	stopChan chan struct{}
	doneChan chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewSweeper creates a Sweeper. A non-positive interval falls back to
// DefaultSweepInterval.
func NewSweeper(c *Coordinator, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		coordinator: c,
		interval:    interval,
		logger:      logger,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}
}

// Start launches the sweep loop. Subsequent calls are no-ops.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		s.active.Store(true)
		go s.run()
		s.logger.Info("Expiry sweeper started",
			zap.Duration("interval", s.interval),
		)
	})
}

// Stop terminates the sweep loop and waits for the in-flight pass, if
// any, to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		<-s.doneChan
		s.active.Store(false)
		s.logger.Info("Expiry sweeper stopped")
	})
}

// Active reports whether the sweep loop is running. The readiness probe
// uses this to catch a sweeper that was never started or already torn
// down.
func (s *Sweeper) Active() bool {
	return s.active.Load()
}

func (s *Sweeper) run() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// One pass up front so a restart reclaims leases that expired while
	// the service was down, without waiting a full interval.
	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.coordinator.Sweep(ctx); err != nil {
		s.logger.Warn("Expiry sweep failed", zap.Error(err))
	}
}
