package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceLastWriterWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	require.NoError(t, s.Replace(ctx, 100, Session{Flow: "browse", ProductID: 1}))
	require.NoError(t, s.Replace(ctx, 100, Session{Flow: "checkout", ProductID: 2, Quantity: 3}))

	got, err := s.Get(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, got)

	// the whole record was swapped, no field merging
	assert.Equal(t, "checkout", got.Flow)
	assert.Equal(t, int64(2), got.ProductID)
	assert.Equal(t, 3, got.Quantity)
	assert.NotZero(t, got.Version)
}

func TestGetAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	got, err := s.Get(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIdleTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(24 * time.Hour)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Replace(ctx, 100, Session{Flow: "browse"}))

	now = now.Add(23 * time.Hour)
	got, err := s.Get(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, got)

	// a replace restarts the idle clock
	require.NoError(t, s.Replace(ctx, 100, Session{Flow: "checkout"}))
	now = now.Add(23 * time.Hour)
	got, err = s.Get(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, got)

	now = now.Add(2 * time.Hour)
	got, err = s.Get(ctx, 100)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCompareAndReplace(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	require.NoError(t, s.Replace(ctx, 100, Session{Flow: "browse"}))
	cur, err := s.Get(ctx, 100)
	require.NoError(t, err)

	t.Run("Matching version wins", func(t *testing.T) {
		require.NoError(t, s.CompareAndReplace(ctx, 100, Session{Flow: "checkout"}, cur.Version))
		got, _ := s.Get(ctx, 100)
		assert.Equal(t, "checkout", got.Flow)
	})

	t.Run("Stale version conflicts", func(t *testing.T) {
		err := s.CompareAndReplace(ctx, 100, Session{Flow: "payment"}, cur.Version)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("Absent record only accepts zero", func(t *testing.T) {
		err := s.CompareAndReplace(ctx, 200, Session{Flow: "browse"}, 42)
		assert.ErrorIs(t, err, ErrConflict)

		require.NoError(t, s.CompareAndReplace(ctx, 200, Session{Flow: "browse"}, 0))
		got, _ := s.Get(ctx, 200)
		require.NotNil(t, got)
		assert.Equal(t, "browse", got.Flow)
	})
}

func TestClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	require.NoError(t, s.Replace(ctx, 100, Session{Flow: "browse"}))
	require.NoError(t, s.Clear(ctx, 100))
	require.NoError(t, s.Clear(ctx, 100))

	got, err := s.Get(ctx, 100)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionsAreIndependentPerActor(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	require.NoError(t, s.Replace(ctx, 1, Session{Flow: "browse"}))
	require.NoError(t, s.Replace(ctx, 2, Session{Flow: "checkout"}))
	require.NoError(t, s.Clear(ctx, 1))

	got, err := s.Get(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "checkout", got.Flow)
}
