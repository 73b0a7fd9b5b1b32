package stock

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PGLedger implements Ledger on Postgres. The row locks taken inside
// Reserve are the sole mechanism preventing oversell; no external lock is
// involved.
type PGLedger struct{ DB *pgxpool.Pool }

func (l *PGLedger) Reserve(ctx context.Context, productID int64, qty int, orderID string) ([]Asset, error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin reserve tx")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, content FROM product_stocks
		WHERE product_id=$1 AND status='free'
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE`, productID, qty)
	if err != nil {
		return nil, errors.Wrap(err, "lock free stock")
	}
	var assets []Asset
	for rows.Next() {
		a := Asset{ProductID: productID, Status: StatusReserved, OrderID: orderID}
		if err := rows.Scan(&a.ID, &a.Content); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan stock row")
		}
		assets = append(assets, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate stock rows")
	}

	if len(assets) < qty {
		return nil, ErrInsufficientStock // rollback via defer
	}

	ids := make([]string, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
	}
	ct, err := tx.Exec(ctx, `
		UPDATE product_stocks SET status='reserved', order_id=$1, updated_at=now()
		WHERE id = ANY($2::uuid[])`, orderID, ids)
	if err != nil {
		return nil, errors.Wrap(err, "mark reserved")
	}
	if int(ct.RowsAffected()) != len(ids) {
		return nil, errors.Errorf("reserve updated %d of %d rows", ct.RowsAffected(), len(ids))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit reserve")
	}
	return assets, nil
}

func (l *PGLedger) Release(ctx context.Context, orderID string) (int, error) {
	ct, err := l.DB.Exec(ctx, `
		UPDATE product_stocks SET status='free', order_id=NULL, updated_at=now()
		WHERE order_id=$1 AND status='reserved'`, orderID)
	if err != nil {
		return 0, errors.Wrap(err, "release stock")
	}
	return int(ct.RowsAffected()), nil
}

func (l *PGLedger) Finalize(ctx context.Context, orderID string) (int, error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin finalize tx")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE product_stocks SET status='sold', updated_at=now()
		WHERE order_id=$1 AND status='reserved'
		RETURNING product_id`, orderID)
	if err != nil {
		return 0, errors.Wrap(err, "mark sold")
	}
	perProduct := map[int64]int{}
	n := 0
	for rows.Next() {
		var pid int64
		if err := rows.Scan(&pid); err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "scan sold row")
		}
		perProduct[pid]++
		n++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "iterate sold rows")
	}

	for pid, cnt := range perProduct {
		if _, err := tx.Exec(ctx, `
			UPDATE products SET sold_count = sold_count + $2, updated_at=now()
			WHERE id=$1`, pid, cnt); err != nil {
			return 0, errors.Wrap(err, "bump sold_count")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit finalize")
	}
	return n, nil
}

func (l *PGLedger) AssetsForOrder(ctx context.Context, orderID string) ([]Asset, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT id, product_id, content, status, updated_at FROM product_stocks
		WHERE order_id=$1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query order assets")
	}
	defer rows.Close()

	var out []Asset
	for rows.Next() {
		a := Asset{OrderID: orderID}
		var st string
		if err := rows.Scan(&a.ID, &a.ProductID, &a.Content, &st, &a.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan asset")
		}
		a.Status = Status(st)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (l *PGLedger) CountFree(ctx context.Context, productID int64) (int, error) {
	var n int
	err := l.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM product_stocks
		WHERE product_id=$1 AND status='free'`, productID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count free stock")
	}
	return n, nil
}

func (l *PGLedger) ReleaseOrphans(ctx context.Context, olderThan time.Time) (int, error) {
	ct, err := l.DB.Exec(ctx, `
		UPDATE product_stocks SET status='free', order_id=NULL, updated_at=now()
		WHERE status='reserved' AND updated_at < $1
		  AND NOT EXISTS (SELECT 1 FROM orders o WHERE o.id = product_stocks.order_id)`,
		olderThan)
	if err != nil {
		return 0, errors.Wrap(err, "release orphans")
	}
	return int(ct.RowsAffected()), nil
}
