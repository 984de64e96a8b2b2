/*
scheduler.go - Automated overdue sweep scheduler

PURPOSE:
  Periodically runs the overdue sweep: every loan still "borrowed" past
  its due date is reclassified as "late" and fined. The manual
  /api/admin/sweep endpoint triggers the same operation on demand.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - The sweep itself is idempotent, so overlapping triggers are safe
  - Each run logs the number of transitions for audit

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSweepScheduler(engine)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - circulation/engine.go: SweepOverdue
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/kutubxona/circulation-engine/circulation"
)

// SweepScheduler runs the overdue sweep on a fixed interval.
type SweepScheduler struct {
	Engine        *circulation.Engine
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(engine *circulation.Engine) *SweepScheduler {
	return &SweepScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ss *SweepScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.wg.Add(1)

	go ss.run()

	log.Printf("[Scheduler] Started with check interval: %v", ss.CheckInterval)
}

// Stop stops the scheduler.
func (ss *SweepScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ss *SweepScheduler) run() {
	defer ss.wg.Done()

	// Run immediately on start
	ss.sweep()

	for {
		select {
		case <-ss.ticker.C:
			ss.sweep()
		case <-ss.stop:
			return
		}
	}
}

func (ss *SweepScheduler) sweep() {
	ctx := context.Background()

	transitioned, err := ss.Engine.SweepOverdue(ctx)
	if err != nil {
		log.Printf("[Scheduler] Sweep failed: %v", err)
		return
	}
	if transitioned > 0 {
		log.Printf("[Scheduler] Sweep completed: %d loans marked late", transitioned)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (ss *SweepScheduler) RunNow() {
	ss.sweep()
}
