package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
)

var _ repository.CampaignRepository = (*campaignRepo)(nil)

type campaignRepo struct{ pool *pgxpool.Pool }

func NewCampaignRepo(pool *pgxpool.Pool) *campaignRepo {
	return &campaignRepo{pool: pool}
}

const campaignColumns = `id, owner_id, name, kind, trigger_type, active, content, plans,
  schedule_type, scheduled_at, delay_minutes, dispatched_at, created_at, updated_at`

func scanCampaign(row pgx.Row) (*model.Campaign, error) {
	var (
		c                       model.Campaign
		kind, trigger, schedule string
		content, plans          []byte
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &kind, &trigger, &c.Active, &content, &plans,
		&schedule, &c.ScheduledAt, &c.DelayMinutes, &c.DispatchedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	c.Kind = model.CampaignKind(kind)
	c.Trigger = model.TriggerType(trigger)
	c.ScheduleType = model.ScheduleType(schedule)
	c.Content = json.RawMessage(content)
	if len(plans) > 0 {
		c.Plans = json.RawMessage(plans)
	}
	return &c, nil
}

// jsonArg passes raw JSON to a jsonb column; empty becomes SQL NULL.
func jsonArg(b json.RawMessage) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (r *campaignRepo) Get(ctx context.Context, tx repository.Tx, campaignID, ownerID string) (*model.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 AND owner_id = $2`
	row, err := pickRow(ctx, r.pool, tx, q, campaignID, ownerID)
	if err != nil {
		return nil, err
	}
	return scanCampaign(row)
}

func (r *campaignRepo) Save(ctx context.Context, tx repository.Tx, c *model.Campaign) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	content := c.Content
	if len(content) == 0 {
		content = json.RawMessage(`{}`)
	}
	const q = `
INSERT INTO campaigns (id, owner_id, name, kind, trigger_type, active, content, plans,
  schedule_type, scheduled_at, delay_minutes, dispatched_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
  name = $3, trigger_type = $5, active = $6, content = $7, plans = $8,
  schedule_type = $9, scheduled_at = $10, delay_minutes = $11, updated_at = $14;`
	_, err := execSQL(ctx, r.pool, tx, q,
		c.ID, c.OwnerID, c.Name, string(c.Kind), string(c.Trigger), c.Active, jsonArg(content), jsonArg(c.Plans),
		string(c.ScheduleType), c.ScheduledAt, c.DelayMinutes, c.DispatchedAt, c.CreatedAt, c.UpdatedAt)
	return opErr(err)
}

func (r *campaignRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Campaign, error) {
	var out []*model.Campaign
	err := queryRows(ctx, r.pool, tx, q, func(rows pgx.Rows) error {
		c, err := scanCampaign(rows)
		if err != nil {
			return err
		}
		out = append(out, c)
		return nil
	}, args...)
	if err != nil {
		return nil, opErr(err)
	}
	return out, nil
}

func (r *campaignRepo) ListActiveByTrigger(ctx context.Context, tx repository.Tx, ownerID string, trigger model.TriggerType) ([]*model.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns
WHERE owner_id = $1 AND kind = 'downsell' AND active AND trigger_type = $2
ORDER BY delay_minutes, id`
	return r.list(ctx, tx, q, ownerID, string(trigger))
}

func (r *campaignRepo) ListDueScheduled(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns
WHERE active AND schedule_type = 'scheduled' AND dispatched_at IS NULL AND scheduled_at <= $1
ORDER BY scheduled_at
LIMIT $2`
	return r.list(ctx, tx, q, now, limit)
}

// MarkDispatched is a compare-and-set on dispatched_at.
func (r *campaignRepo) MarkDispatched(ctx context.Context, tx repository.Tx, campaignID string, at time.Time) (bool, error) {
	const q = `UPDATE campaigns SET dispatched_at = $2, updated_at = NOW() WHERE id = $1 AND dispatched_at IS NULL`
	tag, err := execSQL(ctx, r.pool, tx, q, campaignID, at)
	if err != nil {
		return false, opErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *campaignRepo) DeleteAfterFinalWave(ctx context.Context, tx repository.Tx, campaignID string) error {
	_, err := execSQL(ctx, r.pool, tx, `DELETE FROM campaigns WHERE id = $1`, campaignID)
	return opErr(err)
}

func (r *campaignRepo) ArchivePlans(ctx context.Context, tx repository.Tx, campaignID string, plans json.RawMessage) error {
	const q = `
INSERT INTO campaign_plan_archive (campaign_id, plans, archived_at)
VALUES ($1, $2, NOW())
ON CONFLICT (campaign_id) DO UPDATE SET plans = EXCLUDED.plans, archived_at = EXCLUDED.archived_at;`
	_, err := execSQL(ctx, r.pool, tx, q, campaignID, jsonArg(plans))
	return opErr(err)
}
