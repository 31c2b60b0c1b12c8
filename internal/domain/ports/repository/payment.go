package repository

import (
	"context"

	"telegram-campaign-bot/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	// HasPaymentInStates reports whether the recipient has at least one payment in any of states.
	HasPaymentInStates(ctx context.Context, tx Tx, ownerID string, chatID int64, states []model.PaymentStatus) (bool, error)
	// ChatsWithPaymentInStates is the bulk form of HasPaymentInStates for one owner.
	ChatsWithPaymentInStates(ctx context.Context, tx Tx, ownerID string, states []model.PaymentStatus) (map[int64]struct{}, error)
}
