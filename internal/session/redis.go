package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-shop-fulfillment/internal/redisx"
)

type RedisStore struct {
	RDB *redis.Client
	TTL time.Duration
}

func key(actorID int64) string { return fmt.Sprintf(redisx.KeySession, actorID) }

func (s *RedisStore) Get(ctx context.Context, actorID int64) (*Session, error) {
	raw, err := s.RDB.Get(ctx, key(actorID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		// corrupt record is as good as absent
		return nil, nil
	}
	return &sess, nil
}

func (s *RedisStore) Replace(ctx context.Context, actorID int64, sess Session) error {
	stamp(&sess)
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.RDB.Set(ctx, key(actorID), b, s.TTL).Err()
}

func (s *RedisStore) CompareAndReplace(ctx context.Context, actorID int64, sess Session, expected int64) error {
	k := key(actorID)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, k).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var cur Session
			if jerr := json.Unmarshal([]byte(raw), &cur); jerr == nil && cur.Version != expected {
				return ErrConflict
			}
		} else if expected != 0 {
			return ErrConflict
		}
		stamp(&sess)
		b, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, b, s.TTL)
			return nil
		})
		return err
	}
	err := s.RDB.Watch(ctx, txf, k)
	if err == redis.TxFailedErr {
		return ErrConflict
	}
	return err
}

func (s *RedisStore) Clear(ctx context.Context, actorID int64) error {
	return s.RDB.Del(ctx, key(actorID)).Err()
}

func stamp(sess *Session) {
	sess.RefreshedAt = time.Now().UTC()
	sess.Version = sess.RefreshedAt.UnixNano()
}
