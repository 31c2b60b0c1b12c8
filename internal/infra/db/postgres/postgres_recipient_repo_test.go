//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-campaign-bot/internal/domain"
	"telegram-campaign-bot/internal/domain/model"
)

func TestRecipientRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewRecipientRepo(testPool)
	payments := NewPaymentRepo(testPool)

	t.Run("ListActive keeps creation order and drops blocked", func(t *testing.T) {
		cleanup(t)
		base := time.Now().Add(-time.Hour).Truncate(time.Second)
		for i, id := range []int64{30, 10, 20} {
			require.NoError(t, repo.Save(ctx, nil, &model.Recipient{
				OwnerID: "bot-1", ChatID: id, FirstName: "n", CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}
		require.NoError(t, repo.Save(ctx, nil, &model.Recipient{OwnerID: "bot-2", ChatID: 99}))
		require.NoError(t, repo.MarkBlocked(ctx, nil, "bot-1", 10))

		got, err := repo.ListActive(ctx, nil, "bot-1")
		require.NoError(t, err)
		assert.Equal(t, []int64{30, 20}, model.ChatIDs(got))

		r, err := repo.FindOne(ctx, nil, "bot-1", 10)
		require.NoError(t, err)
		assert.True(t, r.Blocked)
	})

	t.Run("FindOne reports not found", func(t *testing.T) {
		cleanup(t)
		_, err := repo.FindOne(ctx, nil, "bot-1", 1)
		assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
	})

	t.Run("payment states", func(t *testing.T) {
		cleanup(t)
		require.NoError(t, payments.Save(ctx, nil, &model.Payment{ID: "p1", OwnerID: "bot-1", ChatID: 1, Status: model.PaymentStatusCreated}))
		require.NoError(t, payments.Save(ctx, nil, &model.Payment{ID: "p2", OwnerID: "bot-1", ChatID: 2, Status: model.PaymentStatusPaid}))

		has, err := payments.HasPaymentInStates(ctx, nil, "bot-1", 1, model.UnpaidPaymentStates)
		require.NoError(t, err)
		assert.True(t, has)
		has, err = payments.HasPaymentInStates(ctx, nil, "bot-1", 1, model.PaidPaymentStates)
		require.NoError(t, err)
		assert.False(t, has)

		paid, err := payments.ChatsWithPaymentInStates(ctx, nil, "bot-1", model.PaidPaymentStates)
		require.NoError(t, err)
		assert.Equal(t, map[int64]struct{}{2: {}}, paid)
	})
}
