package expiry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	q := NewMemoryQueue()
	require.NoError(t, q.Insert(ctx, "a", base.Add(1*time.Minute)))
	require.NoError(t, q.Insert(ctx, "b", base.Add(2*time.Minute)))
	require.NoError(t, q.Insert(ctx, "c", base.Add(3*time.Minute)))

	t.Run("DueBefore returns oldest first", func(t *testing.T) {
		due, err := q.DueBefore(ctx, base.Add(2*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, "a", due[0].OrderID)
		assert.Equal(t, "b", due[1].OrderID)
	})

	t.Run("Limit caps the batch", func(t *testing.T) {
		due, err := q.DueBefore(ctx, base.Add(time.Hour), 1)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "a", due[0].OrderID)
	})

	t.Run("Insert rescores an existing entry", func(t *testing.T) {
		require.NoError(t, q.Insert(ctx, "a", base.Add(time.Hour)))
		assert.Equal(t, 3, q.Len())

		due, err := q.DueBefore(ctx, base.Add(5*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, "b", due[0].OrderID)
	})

	t.Run("Remove is idempotent", func(t *testing.T) {
		require.NoError(t, q.Remove(ctx, "b"))
		require.NoError(t, q.Remove(ctx, "b"))
		assert.Equal(t, 2, q.Len())
	})
}
