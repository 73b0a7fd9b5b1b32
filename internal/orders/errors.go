package orders

import "errors"

var (
	// ErrNotPending covers the legitimate race where a cancel or payment
	// confirmation arrives after the order already reached a terminal
	// state.
	ErrNotPending = errors.New("order is not pending")

	// ErrAmountMismatch: confirmed amount disagrees with the order total.
	// Never silently accepted; the order stays pending.
	ErrAmountMismatch = errors.New("confirmed amount does not match order total")

	ErrOrderNotFound       = errors.New("order not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrActorBanned         = errors.New("actor is banned")
	ErrPendingOrderExists  = errors.New("actor already has a pending order")
	ErrInsufficientBalance = errors.New("insufficient account balance")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrEmptyOrder          = errors.New("order has no items")
	ErrInvalidAmount       = errors.New("invalid amount")
)
