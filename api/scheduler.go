/*
scheduler.go - Periodic payment reminder scheduler

PURPOSE:
  Runs a background goroutine that periodically sends payment reminders
  to active self-paying users with a negative balance. The same run can
  be triggered manually via POST /api/admin/reminders.

DESIGN:
  - Ticker-driven goroutine with configurable interval
  - One run fires immediately on Start
  - Failures are logged per recipient, never fatal

USAGE:
  scheduler := NewReminderScheduler(invoicer, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: SendReminders endpoint (manual trigger)
  - billing/invoice.go: Invoicer.SendReminders
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/bartab/billing"
)

// ReminderScheduler periodically nags debtors.
type ReminderScheduler struct {
	Invoicer *billing.Invoicer
	Interval time.Duration
	Enabled  bool

	log    *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReminderScheduler creates a scheduler with a 24h interval.
func NewReminderScheduler(invoicer *billing.Invoicer, log *slog.Logger) *ReminderScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &ReminderScheduler{
		Invoicer: invoicer,
		Interval: 24 * time.Hour,
		Enabled:  true,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Start begins the scheduler.
func (rs *ReminderScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.log.Info("reminder scheduler disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.Interval)
	rs.wg.Add(1)
	go rs.run()

	rs.log.Info("reminder scheduler started", "interval", rs.Interval)
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (rs *ReminderScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.log.Info("reminder scheduler stopped")
	}
}

func (rs *ReminderScheduler) run() {
	defer rs.wg.Done()

	rs.sendOnce()

	for {
		select {
		case <-rs.ticker.C:
			rs.sendOnce()
		case <-rs.stop:
			return
		}
	}
}

func (rs *ReminderScheduler) sendOnce() {
	summary, err := rs.Invoicer.SendReminders(context.Background())
	if err != nil {
		rs.log.Error("reminder run failed", "error", err)
		return
	}
	rs.log.Info("reminder run complete",
		"sent", summary.Sent, "failed", summary.Failed)
}
