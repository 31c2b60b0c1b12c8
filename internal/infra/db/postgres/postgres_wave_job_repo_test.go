//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
)

func TestWaveJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewWaveJobRepo(testPool)
	tm := NewTxManager(testPool)
	now := time.Now().Truncate(time.Millisecond)

	insert := func(t *testing.T, id string, index int, at time.Time) {
		t.Helper()
		_, err := repo.InsertWaveJob(ctx, nil, &model.WaveJob{
			ID: id, OwnerID: "bot-1", CampaignKind: model.CampaignKindShot,
			Context: model.WaveContext{CampaignID: "c1", Snapshot: &model.CampaignSnapshot{
				ID: "c1", Kind: model.CampaignKindShot, Content: []byte(`{"text":"hi"}`),
			}},
			RecipientIDs: []int64{int64(index*10 + 1), int64(index*10 + 2)},
			WaveIndex:    index, TotalWaves: 3, ScheduleAt: at,
		})
		require.NoError(t, err)
	}

	t.Run("due jobs come back in schedule order with their context", func(t *testing.T) {
		cleanup(t)
		insert(t, "w2", 2, now.Add(2*time.Second))
		insert(t, "w0", 0, now)
		insert(t, "w1", 1, now.Add(time.Second))

		due, err := repo.ListDueJobs(ctx, nil, now.Add(time.Second), 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, "w0", due[0].ID)
		assert.Equal(t, "w1", due[1].ID)
		assert.Equal(t, []int64{1, 2}, due[0].RecipientIDs)
		require.NotNil(t, due[0].Context.Snapshot)
		assert.JSONEq(t, `{"text":"hi"}`, string(due[0].Context.Snapshot.Content))
		assert.Equal(t, model.JobStatusPending, due[0].Status)
	})

	t.Run("a job is claimed once and keeps its counts", func(t *testing.T) {
		cleanup(t)
		insert(t, "w0", 0, now)

		var claimed []bool
		err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			due, err := repo.ListDueJobs(ctx, tx, now, 10)
			if err != nil {
				return err
			}
			for _, j := range due {
				ok, err := repo.ClaimJob(ctx, tx, j.ID)
				if err != nil {
					return err
				}
				claimed = append(claimed, ok)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []bool{true}, claimed)

		ok, err := repo.ClaimJob(ctx, nil, "w0")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, repo.UpdateJobStatus(ctx, nil, "w0", model.JobStatusCompleted, &model.WaveCounts{Sent: 1, Skipped: 1}, ""))
		jobs, err := repo.ListByCampaign(ctx, nil, "c1")
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, model.JobStatusCompleted, jobs[0].Status)
		assert.Equal(t, 1, jobs[0].SentCount)
		assert.Equal(t, 1, jobs[0].SkippedCount)
	})

	t.Run("stuck processing jobs are reported", func(t *testing.T) {
		cleanup(t)
		insert(t, "w0", 0, now)
		_, err := repo.ClaimJob(ctx, nil, "w0")
		require.NoError(t, err)

		stuck, err := repo.ListStuck(ctx, nil, time.Now().Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stuck, 1)
		stuck, err = repo.ListStuck(ctx, nil, time.Now().Add(-time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, stuck)
	})
}

func TestScheduledSendRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewScheduledSendRepo(testPool)
	cleanup(t)

	now := time.Now()
	for i, at := range []time.Time{now.Add(time.Hour), now.Add(-time.Minute)} {
		_, err := repo.Insert(ctx, nil, &model.ScheduledSend{
			OwnerID: "bot-1", ChatID: int64(i + 1), CampaignKind: model.CampaignKindDownsell, CampaignID: "d1", ScheduleAt: at,
		})
		require.NoError(t, err)
	}

	due, err := repo.ListDue(ctx, nil, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(2), due[0].ChatID)

	ok, err := repo.Claim(ctx, nil, due[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, repo.UpdateStatus(ctx, nil, due[0].ID, model.JobStatusError, "boom"))

	due, err = repo.ListDue(ctx, nil, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
