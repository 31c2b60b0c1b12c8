package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
)

var _ repository.RecipientRepository = (*recipientRepo)(nil)

type recipientRepo struct{ pool *pgxpool.Pool }

func NewRecipientRepo(pool *pgxpool.Pool) *recipientRepo {
	return &recipientRepo{pool: pool}
}

const recipientColumns = `owner_id, chat_id, first_name, username, blocked, created_at, updated_at`

func scanRecipient(row pgx.Row) (*model.Recipient, error) {
	r := &model.Recipient{}
	if err := row.Scan(&r.OwnerID, &r.ChatID, &r.FirstName, &r.Username, &r.Blocked, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	return r, nil
}

func (r *recipientRepo) ListActive(ctx context.Context, tx repository.Tx, ownerID string) ([]*model.Recipient, error) {
	q := `SELECT ` + recipientColumns + ` FROM recipients WHERE owner_id = $1 AND NOT blocked ORDER BY created_at, chat_id`
	var out []*model.Recipient
	err := queryRows(ctx, r.pool, tx, q, func(rows pgx.Rows) error {
		rec, err := scanRecipient(rows)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	}, ownerID)
	if err != nil {
		return nil, opErr(err)
	}
	return out, nil
}

func (r *recipientRepo) FindOne(ctx context.Context, tx repository.Tx, ownerID string, chatID int64) (*model.Recipient, error) {
	q := `SELECT ` + recipientColumns + ` FROM recipients WHERE owner_id = $1 AND chat_id = $2`
	row, err := pickRow(ctx, r.pool, tx, q, ownerID, chatID)
	if err != nil {
		return nil, err
	}
	return scanRecipient(row)
}

// Save upserts on (owner_id, chat_id).
func (r *recipientRepo) Save(ctx context.Context, tx repository.Tx, rec *model.Recipient) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	const q = `
INSERT INTO recipients (owner_id, chat_id, first_name, username, blocked, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (owner_id, chat_id) DO UPDATE SET
  first_name = EXCLUDED.first_name,
  username = EXCLUDED.username,
  blocked = EXCLUDED.blocked,
  updated_at = EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, tx, q, rec.OwnerID, rec.ChatID, rec.FirstName, rec.Username, rec.Blocked, rec.CreatedAt, rec.UpdatedAt)
	return opErr(err)
}

func (r *recipientRepo) MarkBlocked(ctx context.Context, tx repository.Tx, ownerID string, chatID int64) error {
	const q = `UPDATE recipients SET blocked = TRUE, updated_at = NOW() WHERE owner_id = $1 AND chat_id = $2`
	_, err := execSQL(ctx, r.pool, tx, q, ownerID, chatID)
	return opErr(err)
}
