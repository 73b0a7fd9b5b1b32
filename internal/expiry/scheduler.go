package expiry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-shop-fulfillment/internal/metrics"
)

// Expirer drives the terminal expire transition. It must return nil when
// the order is resolved, including when something else already moved it out
// of pending.
type Expirer interface {
	Expire(ctx context.Context, orderID string) error
}

// ExpireFunc adapts a function to Expirer.
type ExpireFunc func(ctx context.Context, orderID string) error

func (f ExpireFunc) Expire(ctx context.Context, orderID string) error { return f(ctx, orderID) }

// PendingScanner lists pending orders whose deadline has passed, straight
// from the order store.
type PendingScanner interface {
	PendingPastDeadline(ctx context.Context, now time.Time, limit int) ([]Entry, error)
}

// OrphanSweeper frees reservations whose order row never materialized.
type OrphanSweeper interface {
	ReleaseOrphans(ctx context.Context, olderThan time.Time) (int, error)
}

// Scheduler is the single background loop releasing unpaid reservations.
// It polls the queue rather than arming per-order timers so that expiry
// survives process restarts, and every cycle it reconciles against the
// order store so a lost queue entry only delays an expiry by one interval.
type Scheduler struct {
	Queue   Queue
	Expirer Expirer
	Orders  PendingScanner
	Stock   OrphanSweeper // optional

	Interval    time.Duration
	Window      time.Duration // payment window; also the orphan-sweep age floor
	BatchSize   int
	MaxAttempts int
	BackoffBase time.Duration

	Log *logrus.Entry
	Now func() time.Time
}

// Run loops until ctx is cancelled. One pass runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.RunOnce(ctx)

	t := time.NewTicker(s.interval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce processes everything currently due, then reconciles.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.now()

	due, err := s.Queue.DueBefore(ctx, now, s.batch())
	if err != nil {
		s.logger().WithError(err).Error("poll expiry queue")
	}
	for _, e := range due {
		if err := s.expireWithRetry(ctx, e.OrderID); err != nil {
			// leave the entry; it will be retried next cycle rather
			// than dropped
			metrics.SchedulerErrors.Inc()
			s.logger().WithError(err).WithField("order_id", e.OrderID).
				Error("expire attempt exhausted retries")
			continue
		}
		if err := s.Queue.Remove(ctx, e.OrderID); err != nil {
			s.logger().WithError(err).WithField("order_id", e.OrderID).Warn("dequeue expiry entry")
		}
	}

	s.reconcile(ctx, now)
}

func (s *Scheduler) expireWithRetry(ctx context.Context, orderID string) error {
	var err error
	backoff := s.backoffBase()
	for attempt := 0; attempt < s.maxAttempts(); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = s.Expirer.Expire(ctx, orderID); err == nil {
			return nil
		}
	}
	return err
}

// reconcile rebuilds queue entries for pending orders past deadline (lost
// during a crash between order insert and enqueue) and frees reservations
// whose order row never appeared.
func (s *Scheduler) reconcile(ctx context.Context, now time.Time) {
	missed, err := s.Orders.PendingPastDeadline(ctx, now, s.batch())
	if err != nil {
		s.logger().WithError(err).Error("reconciliation scan")
	}
	for _, e := range missed {
		if err := s.Queue.Insert(ctx, e.OrderID, e.Deadline); err != nil {
			s.logger().WithError(err).WithField("order_id", e.OrderID).Warn("re-enqueue expiry entry")
			continue
		}
		metrics.ReconciledEntries.Inc()
	}

	if s.Stock == nil {
		return
	}
	n, err := s.Stock.ReleaseOrphans(ctx, now.Add(-s.window()))
	if err != nil {
		s.logger().WithError(err).Error("orphan sweep")
		return
	}
	if n > 0 {
		metrics.OrphanedReservations.Add(float64(n))
		s.logger().WithField("count", n).Warn("freed orphaned reservations")
	}
}

func (s *Scheduler) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return 30 * time.Second
}

func (s *Scheduler) window() time.Duration {
	if s.Window > 0 {
		return s.Window
	}
	return 10 * time.Minute
}

func (s *Scheduler) batch() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return 100
}

func (s *Scheduler) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return 3
}

func (s *Scheduler) backoffBase() time.Duration {
	if s.BackoffBase > 0 {
		return s.BackoffBase
	}
	return 200 * time.Millisecond
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Scheduler) logger() *logrus.Entry {
	if s.Log != nil {
		return s.Log
	}
	return logrus.WithField("component", "expiry-scheduler")
}
