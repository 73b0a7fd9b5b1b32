package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Allow reports whether the actor may perform action once more within the
// window. Counter is INCR + EXPIRE; the first increment arms the window.
func Allow(ctx context.Context, rdb *redis.Client, actorID int64, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf(KeyRate, actorID, action)

	cur, err := rdb.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return false, err
	}
	if cur >= limit {
		return false, nil
	}

	pipe := rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// ExpireNX arms the window on the first increment only; later calls
	// must not stretch it
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(limit), nil
}
