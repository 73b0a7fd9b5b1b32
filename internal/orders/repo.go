package orders

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/ariefcatur/go-shop-fulfillment/internal/expiry"
)

// Repository persists orders. Rows are never deleted; terminal orders stay
// for audit.
type Repository interface {
	Insert(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByInvoice(ctx context.Context, invoiceID string) (*Order, error)
	Exists(ctx context.Context, id string) (bool, error)
	HasPending(ctx context.Context, userID int64) (bool, error)

	// TransitionFromPending flips pending -> to with a guarded update and
	// reports whether this caller won. The losing side of a
	// confirm-vs-expire race sees false here and backs off.
	TransitionFromPending(ctx context.Context, id string, to Status) (bool, error)

	// MarkRefunded records the late-payment refund amount, at most once
	// per order. False means a refund was already recorded; the caller
	// must not credit again.
	MarkRefunded(ctx context.Context, id string, cents int64) (bool, error)

	// PendingPastDeadline lists pending orders whose deadline has passed,
	// for the scheduler's reconciliation pass.
	PendingPastDeadline(ctx context.Context, now time.Time, limit int) ([]expiry.Entry, error)

	GetProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

type PGRepository struct{ DB *pgxpool.Pool }

func (r *PGRepository) Insert(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin insert tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, invoice_id, user_id, kind, subtotal_cents, fee_cents,
		                    total_cents, payment_method, status, created_at, deadline_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$10)`,
		o.ID, o.InvoiceID, o.UserID, string(o.Kind), o.SubtotalCents, o.FeeCents,
		o.TotalCents, string(o.Method), string(o.Status), o.CreatedAt, o.DeadlineAt)
	if err != nil {
		return errors.Wrap(err, "insert order")
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, stock_id, price_cents)
			VALUES ($1,$2,$3,$4)`, o.ID, it.ProductID, it.StockID, it.PriceCents); err != nil {
			return errors.Wrap(err, "insert order item")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit insert")
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (*Order, error) {
	return r.getOne(ctx, `WHERE id=$1`, id)
}

func (r *PGRepository) GetByInvoice(ctx context.Context, invoiceID string) (*Order, error) {
	return r.getOne(ctx, `WHERE invoice_id=$1`, invoiceID)
}

func (r *PGRepository) getOne(ctx context.Context, where string, arg any) (*Order, error) {
	var o Order
	var kind, method, status string
	err := r.DB.QueryRow(ctx, `
		SELECT id, invoice_id, user_id, kind, subtotal_cents, fee_cents,
		       total_cents, refunded_cents, payment_method, status, created_at, deadline_at, updated_at
		FROM orders `+where, arg).Scan(
		&o.ID, &o.InvoiceID, &o.UserID, &kind, &o.SubtotalCents, &o.FeeCents,
		&o.TotalCents, &o.RefundedCents, &method, &status, &o.CreatedAt, &o.DeadlineAt, &o.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query order")
	}
	o.Kind, o.Method, o.Status = Kind(kind), PaymentMethod(method), Status(status)

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, stock_id, price_cents FROM order_items
		WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "query order items")
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.StockID, &it.PriceCents); err != nil {
			return nil, errors.Wrap(err, "scan order item")
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func (r *PGRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&exists)
	return exists, errors.Wrap(err, "probe order")
}

func (r *PGRepository) HasPending(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM orders WHERE user_id=$1 AND status='pending')`,
		userID).Scan(&exists)
	return exists, errors.Wrap(err, "probe pending order")
}

func (r *PGRepository) TransitionFromPending(ctx context.Context, id string, to Status) (bool, error) {
	if !CanTransition(StatusPending, to) {
		return false, errors.Errorf("illegal transition pending -> %s", to)
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now()
		WHERE id=$1 AND status='pending'`, id, string(to))
	if err != nil {
		return false, errors.Wrap(err, "guarded transition")
	}
	return ct.RowsAffected() == 1, nil
}

func (r *PGRepository) MarkRefunded(ctx context.Context, id string, cents int64) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET refunded_cents=$2, updated_at=now()
		WHERE id=$1 AND refunded_cents=0`, id, cents)
	if err != nil {
		return false, errors.Wrap(err, "mark refunded")
	}
	return ct.RowsAffected() == 1, nil
}

func (r *PGRepository) PendingPastDeadline(ctx context.Context, now time.Time, limit int) ([]expiry.Entry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, deadline_at FROM orders
		WHERE status='pending' AND deadline_at <= $1
		ORDER BY deadline_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query past deadline")
	}
	defer rows.Close()

	var out []expiry.Entry
	for rows.Next() {
		var e expiry.Entry
		if err := rows.Scan(&e.OrderID, &e.Deadline); err != nil {
			return nil, errors.Wrap(err, "scan past deadline")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PGRepository) GetProducts(ctx context.Context, ids []int64) (map[int64]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, category, customer_price_cents,
		       COALESCE(reseller_price_cents, 0), sold_count, is_active
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query products")
	}
	defer rows.Close()

	out := make(map[int64]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.CustomerPriceCents,
			&p.ResellerPriceCents, &p.SoldCount, &p.Active); err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *PGRepository) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, category, customer_price_cents,
		       COALESCE(reseller_price_cents, 0), sold_count, is_active
		FROM products WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.CustomerPriceCents,
			&p.ResellerPriceCents, &p.SoldCount, &p.Active); err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
