package expiry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExpirer struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newRecordingExpirer() *recordingExpirer {
	return &recordingExpirer{calls: map[string]int{}, fail: map[string]error{}}
}

func (e *recordingExpirer) Expire(ctx context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[orderID]++
	return e.fail[orderID]
}

func (e *recordingExpirer) count(orderID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[orderID]
}

type stubScanner struct{ entries []Entry }

func (s *stubScanner) PendingPastDeadline(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	return s.entries, nil
}

type stubSweeper struct {
	olderThan time.Time
	freed     int
}

func (s *stubSweeper) ReleaseOrphans(ctx context.Context, olderThan time.Time) (int, error) {
	s.olderThan = olderThan
	return s.freed, nil
}

func TestRunOnceExpiresDueEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	q := NewMemoryQueue()
	require.NoError(t, q.Insert(ctx, "due-1", now.Add(-time.Minute)))
	require.NoError(t, q.Insert(ctx, "due-2", now.Add(-time.Second)))
	require.NoError(t, q.Insert(ctx, "later", now.Add(time.Hour)))

	exp := newRecordingExpirer()
	s := &Scheduler{
		Queue:   q,
		Expirer: exp,
		Orders:  &stubScanner{},
		Now:     func() time.Time { return now },
	}
	s.RunOnce(ctx)

	assert.Equal(t, 1, exp.count("due-1"))
	assert.Equal(t, 1, exp.count("due-2"))
	assert.Equal(t, 0, exp.count("later"))
	assert.Equal(t, 1, q.Len())
}

func TestRunOnceKeepsEntryWhenExpireKeepsFailing(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	q := NewMemoryQueue()
	require.NoError(t, q.Insert(ctx, "stuck", now.Add(-time.Minute)))

	exp := newRecordingExpirer()
	exp.fail["stuck"] = errors.New("store unavailable")

	s := &Scheduler{
		Queue:       q,
		Expirer:     exp,
		Orders:      &stubScanner{},
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		Now:         func() time.Time { return now },
	}
	s.RunOnce(ctx)

	// retried, then left for the next cycle
	assert.Equal(t, 3, exp.count("stuck"))
	assert.Equal(t, 1, q.Len())
}

func TestRunOnceRetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	q := NewMemoryQueue()
	require.NoError(t, q.Insert(ctx, "flaky", now.Add(-time.Minute)))

	attempts := 0
	s := &Scheduler{
		Queue: q,
		Expirer: ExpireFunc(func(ctx context.Context, orderID string) error {
			attempts++
			if attempts < 2 {
				return errors.New("transient")
			}
			return nil
		}),
		Orders:      &stubScanner{},
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		Now:         func() time.Time { return now },
	}
	s.RunOnce(ctx)

	assert.Equal(t, 2, attempts)
	assert.Equal(t, 0, q.Len())
}

func TestReconcileRebuildsLostEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// the store knows about a pending order the queue lost
	q := NewMemoryQueue()
	scanner := &stubScanner{entries: []Entry{{OrderID: "lost", Deadline: now.Add(-time.Minute)}}}

	exp := newRecordingExpirer()
	s := &Scheduler{
		Queue:   q,
		Expirer: exp,
		Orders:  scanner,
		Now:     func() time.Time { return now },
	}

	// first pass re-enqueues, second pass expires
	s.RunOnce(ctx)
	assert.Equal(t, 0, exp.count("lost"))
	assert.Equal(t, 1, q.Len())

	s.RunOnce(ctx)
	assert.Equal(t, 1, exp.count("lost"))
	assert.Equal(t, 0, q.Len())
}

func TestReconcileSweepsOrphans(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sweeper := &stubSweeper{freed: 2}
	s := &Scheduler{
		Queue:   NewMemoryQueue(),
		Expirer: newRecordingExpirer(),
		Orders:  &stubScanner{},
		Stock:   sweeper,
		Window:  10 * time.Minute,
		Now:     func() time.Time { return now },
	}
	s.RunOnce(ctx)

	// only reservations older than a full payment window are swept
	assert.Equal(t, now.Add(-10*time.Minute), sweeper.olderThan)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		Queue:    NewMemoryQueue(),
		Expirer:  newRecordingExpirer(),
		Orders:   &stubScanner{},
		Interval: time.Millisecond,
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
