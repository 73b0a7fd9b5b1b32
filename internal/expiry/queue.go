package expiry

import (
	"context"
	"time"
)

// Entry pairs a pending order with its payment deadline. The queue is
// advisory: losing an entry degrades latency, never correctness, because
// the scheduler's reconciliation pass rebuilds missing entries from the
// order store.
type Entry struct {
	OrderID  string
	Deadline time.Time
}

type Queue interface {
	// Insert adds or rescores the entry. At most one live entry exists
	// per order.
	Insert(ctx context.Context, orderID string, deadline time.Time) error

	// Remove drops the entry. Idempotent.
	Remove(ctx context.Context, orderID string) error

	// DueBefore returns up to limit entries with deadline <= t, oldest
	// first.
	DueBefore(ctx context.Context, t time.Time, limit int) ([]Entry, error)
}
