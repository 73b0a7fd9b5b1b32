package users

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type PGDirectory struct{ DB *pgxpool.Pool }

func (d *PGDirectory) GetActor(ctx context.Context, id int64) (Actor, error) {
	a := Actor{ID: id}
	var role string
	err := d.DB.QueryRow(ctx, `
		SELECT name, member_status, account_balance_cents, is_banned
		FROM users WHERE id=$1`, id).Scan(&a.Name, &role, &a.BalanceCents, &a.Banned)
	if err == pgx.ErrNoRows {
		return Actor{}, ErrActorNotFound
	}
	if err != nil {
		return Actor{}, errors.Wrap(err, "query actor")
	}
	a.Role = Role(role)
	return a, nil
}

func (d *PGDirectory) AdjustBalance(ctx context.Context, id int64, deltaCents int64) error {
	ct, err := d.DB.Exec(ctx, `
		UPDATE users SET account_balance_cents = account_balance_cents + $2, updated_at=now()
		WHERE id=$1 AND account_balance_cents + $2 >= 0`, id, deltaCents)
	if err != nil {
		return errors.Wrap(err, "adjust balance")
	}
	if ct.RowsAffected() == 0 {
		return errors.Wrapf(ErrBalanceRejected, "actor %d delta %d", id, deltaCents)
	}
	return nil
}
