package stock

import (
	"context"
	"errors"
	"time"
)

// ErrInsufficientStock is the only expected reservation failure. It is
// surfaced to the caller as-is and never retried here.
var ErrInsufficientStock = errors.New("insufficient stock")

// Asset is one serialized unit of digital inventory. At most one order owns
// it at a time; sold implies a paid terminal order.
type Asset struct {
	ID        string
	ProductID int64
	Content   string
	Status    Status
	OrderID   string // empty when free
	UpdatedAt time.Time
}

// Ledger hands out exclusive holds on assets. Every mutation is
// all-or-nothing: a reservation either covers the full quantity or nothing
// is committed.
type Ledger interface {
	// Reserve locks up to qty free assets of the product for orderID.
	// Returns ErrInsufficientStock (and commits nothing) when fewer than
	// qty are free.
	Reserve(ctx context.Context, productID int64, qty int, orderID string) ([]Asset, error)

	// Release frees assets still reserved to orderID. Sold assets are left
	// alone. Idempotent; returns the number released.
	Release(ctx context.Context, orderID string) (int, error)

	// Finalize marks assets reserved to orderID as sold and bumps the
	// product sold counters. Idempotent: already-sold assets are skipped.
	Finalize(ctx context.Context, orderID string) (int, error)

	// AssetsForOrder returns every asset owned by orderID, any status.
	AssetsForOrder(ctx context.Context, orderID string) ([]Asset, error)

	// CountFree returns the number of free assets for the product.
	CountFree(ctx context.Context, productID int64) (int, error)

	// ReleaseOrphans frees reservations older than olderThan whose order
	// row never materialized (crash between reserve and order insert).
	ReleaseOrphans(ctx context.Context, olderThan time.Time) (int, error)
}
