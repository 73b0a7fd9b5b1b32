package expiry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is the in-process fallback used when Redis is not configured,
// and the queue implementation in unit tests.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]time.Time)}
}

func (q *MemoryQueue) Insert(ctx context.Context, orderID string, deadline time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[orderID] = deadline
	return nil
}

func (q *MemoryQueue) Remove(ctx context.Context, orderID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, orderID)
	return nil
}

func (q *MemoryQueue) DueBefore(ctx context.Context, t time.Time, limit int) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Entry
	for id, dl := range q.entries {
		if !dl.After(t) {
			out = append(out, Entry{OrderID: id, Deadline: dl})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].Deadline.Before(out[j].Deadline)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports live entries, for tests.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
