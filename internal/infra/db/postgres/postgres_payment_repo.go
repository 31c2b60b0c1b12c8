package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	const q = `
INSERT INTO payments (id, owner_id, chat_id, amount, status, created_at, updated_at, paid_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
  amount = $4, status = $5, updated_at = $7, paid_at = $8;`
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.OwnerID, p.ChatID, p.Amount, string(p.Status), p.CreatedAt, p.UpdatedAt, p.PaidAt)
	return opErr(err)
}

func statusStrings(states []model.PaymentStatus) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func (r *paymentRepo) HasPaymentInStates(ctx context.Context, tx repository.Tx, ownerID string, chatID int64, states []model.PaymentStatus) (bool, error) {
	const q = `
SELECT EXISTS(
    SELECT 1 FROM payments
    WHERE owner_id = $1 AND chat_id = $2 AND status = ANY($3)
)`
	row, err := pickRow(ctx, r.pool, tx, q, ownerID, chatID, statusStrings(states))
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, scanErr(err)
	}
	return exists, nil
}

func (r *paymentRepo) ChatsWithPaymentInStates(ctx context.Context, tx repository.Tx, ownerID string, states []model.PaymentStatus) (map[int64]struct{}, error) {
	const q = `SELECT DISTINCT chat_id FROM payments WHERE owner_id = $1 AND status = ANY($2)`
	out := map[int64]struct{}{}
	err := queryRows(ctx, r.pool, tx, q, func(rows pgx.Rows) error {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return scanErr(err)
		}
		out[id] = struct{}{}
		return nil
	}, ownerID, statusStrings(states))
	if err != nil {
		return nil, opErr(err)
	}
	return out, nil
}
