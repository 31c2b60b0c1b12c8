package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"

	"telegram-campaign-bot/internal/domain"
	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
)

var _ repository.EventRecorder = (*DeliveryRecorder)(nil)

// DeliveryRecorder routes a delivery to the store its kind dedups on. Every
// delivery also lands in the funnel event log.
type DeliveryRecorder struct {
	tm        repository.TransactionManager
	downsells *downsellQueueRepo
	events    *funnelEventLog
}

func NewDeliveryRecorder(tm repository.TransactionManager, downsells *downsellQueueRepo, events *funnelEventLog) *DeliveryRecorder {
	return &DeliveryRecorder{tm: tm, downsells: downsells, events: events}
}

func (d *DeliveryRecorder) RecordDelivery(ctx context.Context, tx repository.Tx, ownerID string, chatID int64, kind model.CampaignKind, campaignID string) error {
	switch kind {
	case model.CampaignKindShot:
		return d.events.RecordDelivery(ctx, tx, ownerID, chatID, kind, campaignID)
	case model.CampaignKindDownsell:
		record := func(ctx context.Context, tx repository.Tx) error {
			if err := d.downsells.RecordDelivery(ctx, tx, ownerID, chatID, kind, campaignID); err != nil {
				return err
			}
			return d.events.RecordDelivery(ctx, tx, ownerID, chatID, kind, campaignID)
		}
		if tx != nil {
			return record(ctx, tx)
		}
		return d.tm.WithTx(ctx, pgx.TxOptions{}, record)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownCampaignKind, kind)
	}
}
