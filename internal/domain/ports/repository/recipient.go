package repository

import (
	"context"

	"telegram-campaign-bot/internal/domain/model"
)

// -----------------------------
// Recipients
// -----------------------------

type RecipientRepository interface {
	// ListActive returns non-blocked recipients of ownerID in stable (creation) order.
	ListActive(ctx context.Context, tx Tx, ownerID string) ([]*model.Recipient, error)
	// FindOne returns domain.ErrNotFound when the recipient does not exist.
	FindOne(ctx context.Context, tx Tx, ownerID string, chatID int64) (*model.Recipient, error)
	Save(ctx context.Context, tx Tx, r *model.Recipient) error
	MarkBlocked(ctx context.Context, tx Tx, ownerID string, chatID int64) error
}
