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
	_ repository.DedupChecker  = (*eventLogRepo)(nil)
	_ repository.EventRecorder = (*eventLogRepo)(nil)
	_ repository.EventRecorder = (*funnelEventLog)(nil)
)

// funnelEventLog appends delivery events of every kind, keyed by
// kind:campaign_id:chat_id.
type funnelEventLog struct {
	pool *pgxpool.Pool
}

func NewFunnelEventLog(pool *pgxpool.Pool) *funnelEventLog {
	return &funnelEventLog{pool: pool}
}

// eventLogRepo is the funnel event log seen from one campaign kind.
type eventLogRepo struct {
	*funnelEventLog
	kind model.CampaignKind
}

// NewEventLogRepo answers dedup questions for campaigns of kind.
func NewEventLogRepo(pool *pgxpool.Pool, kind model.CampaignKind) *eventLogRepo {
	return &eventLogRepo{funnelEventLog: NewFunnelEventLog(pool), kind: kind}
}

func (r *eventLogRepo) AlreadySent(ctx context.Context, tx repository.Tx, campaignID string, chatID int64) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM funnel_events WHERE event_key = $1)`
	row, err := pickRow(ctx, r.pool, tx, q, model.DeliveryEventKey(r.kind, campaignID, chatID))
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, scanErr(err)
	}
	return exists, nil
}

func (r *eventLogRepo) SentAmong(ctx context.Context, tx repository.Tx, campaignID string, chatIDs []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	if len(chatIDs) == 0 {
		return out, nil
	}
	const q = `SELECT chat_id FROM funnel_events WHERE kind = $1 AND campaign_id = $2 AND chat_id = ANY($3)`
	err := queryRows(ctx, r.pool, tx, q, func(rows pgx.Rows) error {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return scanErr(err)
		}
		out[id] = struct{}{}
		return nil
	}, string(r.kind), campaignID, chatIDs)
	if err != nil {
		return nil, opErr(err)
	}
	return out, nil
}

// RecordDelivery inserts the funnel event; the unique event_key makes repeats no-ops.
func (r *funnelEventLog) RecordDelivery(ctx context.Context, tx repository.Tx, ownerID string, chatID int64, kind model.CampaignKind, campaignID string) error {
	const q = `
INSERT INTO funnel_events (id, event_key, owner_id, chat_id, kind, campaign_id, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (event_key) DO NOTHING`
	_, err := execSQL(ctx, r.pool, tx, q, uuid.NewString(), model.DeliveryEventKey(kind, campaignID, chatID),
		ownerID, chatID, string(kind), campaignID, string(model.DeliveryStatusSent))
	return opErr(err)
}
