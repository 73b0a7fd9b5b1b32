package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-shop-fulfillment/internal/audit"
	"github.com/ariefcatur/go-shop-fulfillment/internal/expiry"
	"github.com/ariefcatur/go-shop-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-shop-fulfillment/internal/notify"
	"github.com/ariefcatur/go-shop-fulfillment/internal/stock"
	"github.com/ariefcatur/go-shop-fulfillment/internal/users"
)

// RefundPolicy decides how much is credited back when a payment lands on an
// already-expired order. paidCents is what the gateway confirmed.
type RefundPolicy func(o *Order, paidCents int64) int64

// Machine owns the order lifecycle: pending -> paid | expired | cancelled.
// Every terminal transition goes through a guarded pending-only update, so
// a payment confirmation and a scheduler expiry racing on the same order
// resolve to exactly one winner; the loser's ledger call is a no-op.
type Machine struct {
	Repo      Repository
	Ledger    stock.Ledger
	Queue     expiry.Queue
	Users     users.Directory
	Messenger notify.Messenger
	Audit     audit.Recorder

	// Window is the payment deadline for new pending orders.
	Window        time.Duration
	FeePercent    float64
	FeeFixedCents int64

	// Refund overrides the late-payment refund computation. Default:
	// confirmed amount minus the order's gateway fee.
	Refund RefundPolicy

	Log *logrus.Entry

	// Now overrides the clock in tests.
	Now func() time.Time
}

// CreateOrder validates the actor and stock, reserves concrete assets and
// persists a pending order with a payment deadline. On ErrInsufficientStock
// nothing is committed and no order row exists.
func (m *Machine) CreateOrder(ctx context.Context, actorID int64, items []ItemInput, method PaymentMethod) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	for _, it := range items {
		if it.Qty <= 0 {
			return nil, ErrInvalidQuantity
		}
	}

	actor, err := m.Users.GetActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Banned {
		return nil, ErrActorBanned
	}

	if has, err := m.Repo.HasPending(ctx, actorID); err != nil {
		return nil, err
	} else if has {
		return nil, ErrPendingOrderExists
	}

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	products, err := m.Repo.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		p, ok := products[it.ProductID]
		if !ok || !p.Active {
			return nil, errors.Wrapf(ErrProductNotFound, "product %d", it.ProductID)
		}
	}

	reseller := actor.Role == users.RoleReseller
	var subtotal int64
	for _, it := range items {
		subtotal += products[it.ProductID].PriceFor(reseller) * int64(it.Qty)
	}
	fee := m.fee(method, subtotal)
	total := subtotal + fee
	if method == MethodBalance && actor.BalanceCents < total {
		return nil, ErrInsufficientBalance
	}

	orderID := uuid.NewString()
	var allocated []Item
	for _, it := range items {
		assets, err := m.Ledger.Reserve(ctx, it.ProductID, it.Qty, orderID)
		if err != nil {
			// free anything earlier lines already locked
			if _, relErr := m.Ledger.Release(ctx, orderID); relErr != nil {
				m.logger().WithError(relErr).WithField("order_id", orderID).
					Error("release after failed reserve")
			}
			if errors.Is(err, stock.ErrInsufficientStock) {
				metrics.ReservationRejects.Inc()
			}
			return nil, err
		}
		price := products[it.ProductID].PriceFor(reseller)
		for _, a := range assets {
			allocated = append(allocated, Item{ProductID: a.ProductID, StockID: a.ID, PriceCents: price})
		}
	}

	now := m.now()
	o := &Order{
		ID:            orderID,
		InvoiceID:     NewInvoiceID(actorID),
		UserID:        actorID,
		Kind:          KindPurchase,
		Items:         allocated,
		SubtotalCents: subtotal,
		FeeCents:      fee,
		TotalCents:    total,
		Method:        method,
		Status:        StatusPending,
		CreatedAt:     now,
		DeadlineAt:    now.Add(m.Window),
		UpdatedAt:     now,
	}
	if err := m.Repo.Insert(ctx, o); err != nil {
		if _, relErr := m.Ledger.Release(ctx, orderID); relErr != nil {
			m.logger().WithError(relErr).WithField("order_id", orderID).
				Error("release after failed order insert")
		}
		return nil, err
	}

	if err := m.Queue.Insert(ctx, o.ID, o.DeadlineAt); err != nil {
		// advisory entry; the reconciliation pass rebuilds it
		m.logger().WithError(err).WithField("order_id", o.ID).Warn("enqueue expiry entry")
	}

	m.record(ctx, o, "", StatusPending, map[string]any{
		"invoice":     o.InvoiceID,
		"total_cents": o.TotalCents,
	})
	metrics.OrdersCreated.WithLabelValues(string(method)).Inc()
	return o, nil
}

// CreateDeposit opens a balance top-up order. No stock is involved; the
// subtotal is credited when the gateway confirms.
func (m *Machine) CreateDeposit(ctx context.Context, actorID int64, amountCents int64) (*Order, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	actor, err := m.Users.GetActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Banned {
		return nil, ErrActorBanned
	}
	if has, err := m.Repo.HasPending(ctx, actorID); err != nil {
		return nil, err
	} else if has {
		return nil, ErrPendingOrderExists
	}

	fee := m.fee(MethodQRIS, amountCents)
	now := m.now()
	o := &Order{
		ID:            uuid.NewString(),
		InvoiceID:     NewInvoiceID(actorID),
		UserID:        actorID,
		Kind:          KindDeposit,
		SubtotalCents: amountCents,
		FeeCents:      fee,
		TotalCents:    amountCents + fee,
		Method:        MethodQRIS,
		Status:        StatusPending,
		CreatedAt:     now,
		DeadlineAt:    now.Add(m.Window),
		UpdatedAt:     now,
	}
	if err := m.Repo.Insert(ctx, o); err != nil {
		return nil, err
	}
	if err := m.Queue.Insert(ctx, o.ID, o.DeadlineAt); err != nil {
		m.logger().WithError(err).WithField("order_id", o.ID).Warn("enqueue expiry entry")
	}
	m.record(ctx, o, "", StatusPending, map[string]any{
		"invoice":     o.InvoiceID,
		"total_cents": o.TotalCents,
		"kind":        string(KindDeposit),
	})
	metrics.OrdersCreated.WithLabelValues(string(MethodQRIS)).Inc()
	return o, nil
}

// ConfirmPayment handles the gateway's confirmation for an invoice.
// Idempotent: a duplicate confirmation of a paid order returns nil without
// re-delivering or re-crediting.
func (m *Machine) ConfirmPayment(ctx context.Context, invoiceRef string, amountCents int64) error {
	o, err := m.Repo.GetByInvoice(ctx, invoiceRef)
	if err != nil {
		return err
	}

	switch o.Status {
	case StatusPending:
		// continue below
	case StatusPaid:
		// duplicate notification; re-drive the idempotent ledger steps in
		// case an earlier attempt crashed between the status flip and
		// finalize, then report success
		if o.Kind == KindPurchase {
			if _, ferr := m.Ledger.Finalize(ctx, o.ID); ferr != nil {
				m.logger().WithError(ferr).WithField("order_id", o.ID).Warn("re-finalize on duplicate confirm")
			}
		}
		_ = m.Queue.Remove(ctx, o.ID)
		return nil
	case StatusExpired:
		return m.latePayment(ctx, o, amountCents)
	default:
		return ErrNotPending
	}

	if amountCents != o.TotalCents {
		m.logger().WithFields(logrus.Fields{
			"order_id":        o.ID,
			"invoice":         o.InvoiceID,
			"expected_cents":  o.TotalCents,
			"confirmed_cents": amountCents,
		}).Error("payment amount mismatch")
		m.record(ctx, o, StatusPending, StatusPending, map[string]any{
			"error":           "amount_mismatch",
			"expected_cents":  o.TotalCents,
			"confirmed_cents": amountCents,
		})
		return ErrAmountMismatch
	}

	// collect the money before the status flip for balance orders; a
	// rejected debit must leave the order pending, not hand over goods
	deducted := false
	if o.Method == MethodBalance {
		if err := m.Users.AdjustBalance(ctx, o.UserID, -o.TotalCents); err != nil {
			if errors.Is(err, users.ErrBalanceRejected) {
				return ErrInsufficientBalance
			}
			return err
		}
		deducted = true
	}

	won, err := m.Repo.TransitionFromPending(ctx, o.ID, StatusPaid)
	if err != nil {
		m.undoDeduction(ctx, o, deducted)
		return err
	}
	if !won {
		m.undoDeduction(ctx, o, deducted)
		cur, err := m.Repo.GetByID(ctx, o.ID)
		if err != nil {
			return err
		}
		if cur.Status == StatusPaid {
			return nil
		}
		if cur.Status == StatusExpired {
			return m.latePayment(ctx, cur, amountCents)
		}
		return ErrNotPending
	}

	if o.Kind == KindPurchase {
		if _, err := m.Ledger.Finalize(ctx, o.ID); err != nil {
			m.logger().WithError(err).WithField("order_id", o.ID).Error("finalize after paid flip")
		}
	}
	if err := m.Queue.Remove(ctx, o.ID); err != nil {
		m.logger().WithError(err).WithField("order_id", o.ID).Warn("remove expiry entry")
	}

	if o.Kind == KindDeposit {
		if err := m.Users.AdjustBalance(ctx, o.UserID, o.SubtotalCents); err != nil {
			m.logger().WithError(err).WithField("order_id", o.ID).Error("credit deposit")
		}
	}

	if o.Kind == KindPurchase {
		assets, err := m.Ledger.AssetsForOrder(ctx, o.ID)
		if err != nil {
			m.logger().WithError(err).WithField("order_id", o.ID).Error("load assets for delivery")
		}
		for _, a := range assets {
			if err := m.Messenger.DeliverAsset(ctx, o.UserID, a.Content); err != nil {
				m.logger().WithError(err).WithField("order_id", o.ID).Error("deliver asset")
			}
		}
	}
	_ = m.Messenger.Notify(ctx, o.UserID, fmt.Sprintf("Payment received for invoice %s. Thank you!", o.InvoiceID))

	m.record(ctx, o, StatusPending, StatusPaid, map[string]any{"amount_cents": amountCents})
	return nil
}

// Cancel is the user-initiated terminal transition.
func (m *Machine) Cancel(ctx context.Context, orderRef string, actorID int64) error {
	o, err := m.Repo.GetByID(ctx, orderRef)
	if err != nil {
		return err
	}
	if o.UserID != actorID {
		return ErrOrderNotFound
	}

	won, err := m.Repo.TransitionFromPending(ctx, o.ID, StatusCancelled)
	if err != nil {
		return err
	}
	if !won {
		return ErrNotPending
	}

	if _, err := m.Ledger.Release(ctx, o.ID); err != nil {
		m.logger().WithError(err).WithField("order_id", o.ID).Error("release after cancel")
	}
	_ = m.Queue.Remove(ctx, o.ID)
	m.record(ctx, o, StatusPending, StatusCancelled, nil)
	return nil
}

// Expire is the scheduler-initiated terminal transition. Safe to call
// concurrently with ConfirmPayment; the guarded update picks one winner.
func (m *Machine) Expire(ctx context.Context, orderRef string) error {
	o, err := m.Repo.GetByID(ctx, orderRef)
	if err != nil {
		return err
	}

	won, err := m.Repo.TransitionFromPending(ctx, o.ID, StatusExpired)
	if err != nil {
		return err
	}
	if !won {
		return ErrNotPending
	}

	if _, err := m.Ledger.Release(ctx, o.ID); err != nil {
		m.logger().WithError(err).WithField("order_id", o.ID).Error("release after expire")
	}
	_ = m.Queue.Remove(ctx, o.ID)
	_ = m.Messenger.Notify(ctx, o.UserID, fmt.Sprintf(
		"Invoice %s expired unpaid. A late payment will be refunded to your balance minus gateway fees.", o.InvoiceID))
	m.record(ctx, o, StatusPending, StatusExpired, nil)
	metrics.OrdersExpired.Inc()
	return nil
}

// latePayment credits gateway money that arrived after expiry, per the
// refund policy, and still reports ErrNotPending to the caller. The refund
// is recorded on the order row first so a redelivered confirmation cannot
// credit twice.
func (m *Machine) latePayment(ctx context.Context, o *Order, paidCents int64) error {
	if o.Method != MethodQRIS {
		// no external money was collected for balance orders
		return ErrNotPending
	}
	refund := m.refund()(o, paidCents)
	if refund > 0 {
		won, err := m.Repo.MarkRefunded(ctx, o.ID, refund)
		if err != nil {
			return err
		}
		if !won {
			return ErrNotPending
		}
		if err := m.Users.AdjustBalance(ctx, o.UserID, refund); err != nil {
			m.logger().WithError(err).WithField("order_id", o.ID).Error("credit late-payment refund")
			return err
		}
		_ = m.Messenger.Notify(ctx, o.UserID, fmt.Sprintf(
			"Invoice %s had already expired. %d was credited to your balance (gateway fees deducted).",
			o.InvoiceID, refund))
	}
	m.record(ctx, o, o.Status, o.Status, map[string]any{
		"late_payment_cents": paidCents,
		"refund_cents":       refund,
	})
	return ErrNotPending
}

// undoDeduction re-credits a balance debit taken ahead of a status flip
// that did not happen.
func (m *Machine) undoDeduction(ctx context.Context, o *Order, deducted bool) {
	if !deducted {
		return
	}
	if err := m.Users.AdjustBalance(ctx, o.UserID, o.TotalCents); err != nil {
		m.logger().WithError(err).WithField("order_id", o.ID).Error("re-credit after lost transition")
	}
}

func (m *Machine) fee(method PaymentMethod, subtotalCents int64) int64 {
	if method != MethodQRIS {
		return 0
	}
	return int64(float64(subtotalCents)*m.FeePercent) + m.FeeFixedCents
}

func (m *Machine) refund() RefundPolicy {
	if m.Refund != nil {
		return m.Refund
	}
	return func(o *Order, paidCents int64) int64 {
		r := paidCents - o.FeeCents
		if r < 0 {
			return 0
		}
		return r
	}
}

func (m *Machine) record(ctx context.Context, o *Order, from, to Status, extra map[string]any) {
	if err := m.Audit.RecordTransition(ctx, o.ID, o.UserID, string(from), string(to), extra); err != nil {
		m.logger().WithError(err).WithField("order_id", o.ID).Error("audit write")
	}
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

func (m *Machine) logger() *logrus.Entry {
	if m.Log != nil {
		return m.Log
	}
	return logrus.WithField("component", "order-machine")
}
