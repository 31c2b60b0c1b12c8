package repository

import (
	"context"

	"telegram-campaign-bot/internal/domain/model"
)

// -----------------------------
// Delivery dedup and recording
// -----------------------------

// DedupChecker answers "was campaign already sent to this chat". Downsells and
// shots keep that answer in different stores; each store implements this.
type DedupChecker interface {
	SentAmong(ctx context.Context, tx Tx, campaignID string, chatIDs []int64) (map[int64]struct{}, error)
	AlreadySent(ctx context.Context, tx Tx, campaignID string, chatID int64) (bool, error)
}

// EventRecorder records a successful delivery. Duplicate calls are no-ops.
type EventRecorder interface {
	RecordDelivery(ctx context.Context, tx Tx, ownerID string, chatID int64, kind model.CampaignKind, campaignID string) error
}
