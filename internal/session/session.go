package session

import (
	"context"
	"errors"
	"time"
)

// ErrConflict is returned by CompareAndReplace when the stored version no
// longer matches.
var ErrConflict = errors.New("session version conflict")

// Session is the per-actor UI-continuity record: which flow the actor is in
// and its parameters. It is advisory only — losing or overwriting it never
// touches orders or stock. Any interactive action replaces the whole record
// (last writer wins), which is what lets a user abandon a flow and start
// another without an explicit cancel step.
type Session struct {
	Flow        string    `json:"flow"`
	ProductID   int64     `json:"product_id,omitempty"`
	Quantity    int       `json:"quantity,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	Version     int64     `json:"version"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

type Store interface {
	// Get returns the actor's session, or (nil, nil) when absent or
	// expired.
	Get(ctx context.Context, actorID int64) (*Session, error)

	// Replace swaps the whole record unconditionally and restarts the
	// idle TTL.
	Replace(ctx context.Context, actorID int64, s Session) error

	// CompareAndReplace swaps the record only when the stored version
	// equals expected; otherwise ErrConflict.
	CompareAndReplace(ctx context.Context, actorID int64, s Session, expected int64) error

	// Clear forgets the record. Idempotent.
	Clear(ctx context.Context, actorID int64) error
}
