package repository

import (
	"context"
	"encoding/json"
	"time"

	"telegram-campaign-bot/internal/domain/model"
)

// -----------------------------
// Campaigns
// -----------------------------

type CampaignRepository interface {
	// Get returns domain.ErrNotFound when no campaign matches (campaignID, ownerID).
	Get(ctx context.Context, tx Tx, campaignID, ownerID string) (*model.Campaign, error)
	Save(ctx context.Context, tx Tx, c *model.Campaign) error
	// ListActiveByTrigger returns active downsells of ownerID reacting to trigger.
	ListActiveByTrigger(ctx context.Context, tx Tx, ownerID string, trigger model.TriggerType) ([]*model.Campaign, error)
	// ListDueScheduled returns active scheduled shots with scheduled_at <= now not yet dispatched.
	ListDueScheduled(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Campaign, error)
	// MarkDispatched sets dispatched_at once; false when it was already set.
	MarkDispatched(ctx context.Context, tx Tx, campaignID string, at time.Time) (bool, error)
	DeleteAfterFinalWave(ctx context.Context, tx Tx, campaignID string) error
	// ArchivePlans keeps payment plan metadata of a consumed shot so delivered links keep working.
	ArchivePlans(ctx context.Context, tx Tx, campaignID string, plans json.RawMessage) error
}
