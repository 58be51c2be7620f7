/*
scheduler.go - Advance deadline scheduler

PURPOSE:
  Periodically confirms pending advance payments whose deadline has
  passed, as if the goods had been reported arrived.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Each sweep is one ledger transaction (AutoConfirmOverdue); advances
    confirmed or cancelled in the meantime are skipped
  - Safe to run on several instances at once: every advance is locked
    before it changes state

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewAdvanceScheduler(svc, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunAutoConfirm endpoint (manual sweep)
  - ledger/escrow.go: AutoConfirmOverdue
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/supply-ledger/ledger"
)

// AdvanceScheduler runs the advance deadline sweep on a ticker.
type AdvanceScheduler struct {
	Service       *ledger.Service
	CheckInterval time.Duration
	Enabled       bool

	log    logrus.FieldLogger
	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu  sync.Mutex
	lastRun time.Time
}

// NewAdvanceScheduler creates a new scheduler.
func NewAdvanceScheduler(svc *ledger.Service, log logrus.FieldLogger) *AdvanceScheduler {
	return &AdvanceScheduler{
		Service:       svc,
		CheckInterval: time.Minute,
		Enabled:       true,
		log:           log.WithField("component", "advance-scheduler"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the scheduler.
func (s *AdvanceScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.log.WithField("interval", s.CheckInterval.String()).Info("started")
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (s *AdvanceScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log.Info("stopped")
	}
}

func (s *AdvanceScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.checkAndConfirm(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.checkAndConfirm(context.Background())
		case <-s.stop:
			return
		}
	}
}

func (s *AdvanceScheduler) checkAndConfirm(ctx context.Context) ([]ledger.AdvanceID, error) {
	now := s.now()
	ids, err := s.Service.AutoConfirmOverdue(ctx, now)
	if err != nil {
		s.log.WithError(err).Error("auto-confirm sweep failed")
		return nil, err
	}

	s.lastMu.Lock()
	s.lastRun = now
	s.lastMu.Unlock()

	if len(ids) > 0 {
		s.log.WithField("count", len(ids)).Info("confirmed overdue advances")
	}
	return ids, nil
}

// RunNow triggers an immediate sweep (for testing/admin).
func (s *AdvanceScheduler) RunNow(ctx context.Context) ([]ledger.AdvanceID, error) {
	return s.checkAndConfirm(ctx)
}

// GetNextRunTime returns when the next scheduled check will occur.
func (s *AdvanceScheduler) GetNextRunTime() time.Time {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if s.lastRun.IsZero() {
		return s.now()
	}
	return s.lastRun.Add(s.CheckInterval)
}
