package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-campaign-bot/internal/domain"
	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
)

var _ repository.ScheduledSendRepository = (*scheduledSendRepo)(nil)

type scheduledSendRepo struct {
	pool *pgxpool.Pool
}

func NewScheduledSendRepo(pool *pgxpool.Pool) *scheduledSendRepo {
	return &scheduledSendRepo{pool: pool}
}

func (r *scheduledSendRepo) Insert(ctx context.Context, tx repository.Tx, s *model.ScheduledSend) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = model.JobStatusPending
	}
	const q = `
INSERT INTO scheduled_sends (id, owner_id, chat_id, campaign_kind, campaign_id, schedule_at, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.OwnerID, s.ChatID, string(s.CampaignKind), s.CampaignID, s.ScheduleAt, string(s.Status), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return "", opErr(err)
	}
	return s.ID, nil
}

func (r *scheduledSendRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.ScheduledSend, error) {
	q := forUpdate(`
SELECT id, owner_id, chat_id, campaign_kind, campaign_id, schedule_at, status, last_error, created_at, updated_at
FROM scheduled_sends
WHERE status = 'pending' AND schedule_at <= $1
ORDER BY schedule_at
LIMIT $2`, tx)

	var out []*model.ScheduledSend
	err := queryRows(ctx, r.pool, tx, q, func(rows pgx.Rows) error {
		var (
			s            model.ScheduledSend
			kind, status string
		)
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.ChatID, &kind, &s.CampaignID, &s.ScheduleAt,
			&status, &s.LastError, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return scanErr(err)
		}
		s.CampaignKind = model.CampaignKind(kind)
		s.Status = model.JobStatus(status)
		out = append(out, &s)
		return nil
	}, now, limit)
	if err != nil {
		return nil, opErr(err)
	}
	return out, nil
}

func (r *scheduledSendRepo) Claim(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	const q = `UPDATE scheduled_sends SET status = 'processing', updated_at = NOW() WHERE id = $1 AND status = 'pending'`
	tag, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return false, opErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *scheduledSendRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.JobStatus, lastErr string) error {
	const q = `UPDATE scheduled_sends SET status = $2, last_error = $3, updated_at = NOW() WHERE id = $1`
	tag, err := execSQL(ctx, r.pool, tx, q, id, string(status), lastErr)
	if err != nil {
		return opErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
