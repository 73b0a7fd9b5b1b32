package stock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is the in-process fallback implementation, used when no
// database is configured and as the ledger in unit tests. One mutex guards
// the whole pool, which gives the same all-or-nothing guarantee the
// Postgres transaction provides.
type MemoryLedger struct {
	mu     sync.Mutex
	assets map[string]*Asset
	sold   map[int64]int
	orders func(ctx context.Context, orderID string) (bool, error) // order-exists probe for ReleaseOrphans
	now    func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		assets: make(map[string]*Asset),
		sold:   make(map[int64]int),
		now:    time.Now,
	}
}

// SetOrderProbe wires the order-existence check used by ReleaseOrphans.
func (l *MemoryLedger) SetOrderProbe(probe func(ctx context.Context, orderID string) (bool, error)) {
	l.orders = probe
}

// Add seeds one free asset and returns its id.
func (l *MemoryLedger) Add(productID int64, content string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uuid.NewString()
	l.assets[id] = &Asset{
		ID:        id,
		ProductID: productID,
		Content:   content,
		Status:    StatusFree,
		UpdatedAt: l.now(),
	}
	return id
}

func (l *MemoryLedger) Reserve(ctx context.Context, productID int64, qty int, orderID string) ([]Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	free := l.freeLocked(productID)
	if len(free) < qty {
		return nil, ErrInsufficientStock
	}

	out := make([]Asset, 0, qty)
	for _, a := range free[:qty] {
		a.Status = StatusReserved
		a.OrderID = orderID
		a.UpdatedAt = l.now()
		out = append(out, *a)
	}
	return out, nil
}

func (l *MemoryLedger) Release(ctx context.Context, orderID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, a := range l.assets {
		if a.OrderID == orderID && a.Status == StatusReserved {
			a.Status = StatusFree
			a.OrderID = ""
			a.UpdatedAt = l.now()
			n++
		}
	}
	return n, nil
}

func (l *MemoryLedger) Finalize(ctx context.Context, orderID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, a := range l.assets {
		if a.OrderID == orderID && a.Status == StatusReserved {
			a.Status = StatusSold
			a.UpdatedAt = l.now()
			l.sold[a.ProductID]++
			n++
		}
	}
	return n, nil
}

func (l *MemoryLedger) AssetsForOrder(ctx context.Context, orderID string) ([]Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Asset
	for _, a := range l.assets {
		if a.OrderID == orderID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *MemoryLedger) CountFree(ctx context.Context, productID int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.freeLocked(productID)), nil
}

func (l *MemoryLedger) SoldCount(productID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sold[productID]
}

func (l *MemoryLedger) ReleaseOrphans(ctx context.Context, olderThan time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, a := range l.assets {
		if a.Status != StatusReserved || !a.UpdatedAt.Before(olderThan) {
			continue
		}
		if l.orders != nil {
			exists, err := l.orders(ctx, a.OrderID)
			if err != nil {
				return n, err
			}
			if exists {
				continue
			}
		}
		a.Status = StatusFree
		a.OrderID = ""
		a.UpdatedAt = l.now()
		n++
	}
	return n, nil
}

// freeLocked returns free assets for the product in stable id order.
func (l *MemoryLedger) freeLocked(productID int64) []*Asset {
	var free []*Asset
	for _, a := range l.assets {
		if a.ProductID == productID && a.Status == StatusFree {
			free = append(free, a)
		}
	}
	sort.Slice(free, func(i, j int) bool { return free[i].ID < free[j].ID })
	return free
}
