package users

import (
	"context"
	"errors"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleReseller Role = "reseller"
	RoleAdmin    Role = "admin"
)

var (
	ErrActorNotFound = errors.New("actor not found")

	// ErrBalanceRejected: the debit would drive the balance negative.
	ErrBalanceRejected = errors.New("balance adjustment rejected")
)

// Actor is the buyer identity as seen by the fulfillment core. Owned by the
// user-management side; the core only reads role/balance and writes balance
// deltas through Directory.
type Actor struct {
	ID           int64
	Name         string
	Role         Role
	BalanceCents int64
	Banned       bool
}

type Directory interface {
	GetActor(ctx context.Context, id int64) (Actor, error)

	// AdjustBalance applies a signed delta to the actor's balance. The
	// store rejects deltas that would drive the balance negative.
	AdjustBalance(ctx context.Context, id int64, deltaCents int64) error
}
