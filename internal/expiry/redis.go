package expiry

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-shop-fulfillment/internal/redisx"
)

// RedisQueue keeps the expiry index in a sorted set scored by deadline
// unix time.
type RedisQueue struct{ RDB *redis.Client }

func (q *RedisQueue) Insert(ctx context.Context, orderID string, deadline time.Time) error {
	return q.RDB.ZAdd(ctx, redisx.KeyExpiryQueue, redis.Z{
		Score:  float64(deadline.Unix()),
		Member: orderID,
	}).Err()
}

func (q *RedisQueue) Remove(ctx context.Context, orderID string) error {
	return q.RDB.ZRem(ctx, redisx.KeyExpiryQueue, orderID).Err()
}

func (q *RedisQueue) DueBefore(ctx context.Context, t time.Time, limit int) ([]Entry, error) {
	zs, err := q.RDB.ZRangeByScoreWithScores(ctx, redisx.KeyExpiryQueue, &redis.ZRangeBy{
		Min:   "0",
		Max:   strconv.FormatInt(t.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, Entry{OrderID: id, Deadline: time.Unix(int64(z.Score), 0)})
	}
	return out, nil
}
