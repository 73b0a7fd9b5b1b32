package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process fallback used when Redis is not configured,
// and the store implementation in unit tests.
type MemoryStore struct {
	TTL time.Duration

	mu      sync.Mutex
	records map[int64]memRecord
	now     func() time.Time
}

type memRecord struct {
	sess      Session
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{TTL: ttl, records: make(map[int64]memRecord), now: time.Now}
}

// SetClock overrides the time source, for TTL tests.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) Get(ctx context.Context, actorID int64) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[actorID]
	if !ok {
		return nil, nil
	}
	if s.now().After(rec.expiresAt) {
		delete(s.records, actorID)
		return nil, nil
	}
	out := rec.sess
	return &out, nil
}

func (s *MemoryStore) Replace(ctx context.Context, actorID int64, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.RefreshedAt = s.now().UTC()
	sess.Version = sess.RefreshedAt.UnixNano()
	s.records[actorID] = memRecord{sess: sess, expiresAt: s.now().Add(s.TTL)}
	return nil
}

func (s *MemoryStore) CompareAndReplace(ctx context.Context, actorID int64, sess Session, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[actorID]
	if ok && s.now().After(rec.expiresAt) {
		delete(s.records, actorID)
		ok = false
	}
	switch {
	case !ok && expected != 0:
		return ErrConflict
	case ok && rec.sess.Version != expected:
		return ErrConflict
	}

	sess.RefreshedAt = s.now().UTC()
	sess.Version = sess.RefreshedAt.UnixNano()
	s.records[actorID] = memRecord{sess: sess, expiresAt: s.now().Add(s.TTL)}
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, actorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, actorID)
	return nil
}
