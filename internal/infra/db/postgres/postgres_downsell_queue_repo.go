package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
)

var (
	_ repository.DedupChecker  = (*downsellQueueRepo)(nil)
	_ repository.EventRecorder = (*downsellQueueRepo)(nil)
)

// downsellQueueRepo keeps one row per (campaign, chat). A row in status sent
// means the downsell was delivered to that chat.
type downsellQueueRepo struct {
	pool *pgxpool.Pool
}

func NewDownsellQueueRepo(pool *pgxpool.Pool) *downsellQueueRepo {
	return &downsellQueueRepo{pool: pool}
}

func (r *downsellQueueRepo) AlreadySent(ctx context.Context, tx repository.Tx, campaignID string, chatID int64) (bool, error) {
	const q = `
SELECT EXISTS(
    SELECT 1 FROM downsell_queue
    WHERE campaign_id = $1 AND chat_id = $2 AND status = 'sent'
)`
	row, err := pickRow(ctx, r.pool, tx, q, campaignID, chatID)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, scanErr(err)
	}
	return exists, nil
}

func (r *downsellQueueRepo) SentAmong(ctx context.Context, tx repository.Tx, campaignID string, chatIDs []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	if len(chatIDs) == 0 {
		return out, nil
	}
	const q = `SELECT chat_id FROM downsell_queue WHERE campaign_id = $1 AND status = 'sent' AND chat_id = ANY($2)`
	err := queryRows(ctx, r.pool, tx, q, func(rows pgx.Rows) error {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return scanErr(err)
		}
		out[id] = struct{}{}
		return nil
	}, campaignID, chatIDs)
	if err != nil {
		return nil, opErr(err)
	}
	return out, nil
}

// RecordDelivery upserts the queue row as sent; repeating it changes nothing
// but updated_at.
func (r *downsellQueueRepo) RecordDelivery(ctx context.Context, tx repository.Tx, ownerID string, chatID int64, _ model.CampaignKind, campaignID string) error {
	const q = `
INSERT INTO downsell_queue (id, owner_id, campaign_id, chat_id, status, sent_at)
VALUES ($1, $2, $3, $4, 'sent', NOW())
ON CONFLICT (campaign_id, chat_id) DO UPDATE SET
  status = 'sent',
  sent_at = COALESCE(downsell_queue.sent_at, EXCLUDED.sent_at),
  updated_at = NOW();`
	_, err := execSQL(ctx, r.pool, tx, q, uuid.NewString(), ownerID, campaignID, chatID)
	return opErr(err)
}
