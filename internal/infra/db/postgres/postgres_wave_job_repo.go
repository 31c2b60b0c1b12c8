package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-campaign-bot/internal/domain"
	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
)

var _ repository.WaveJobRepository = (*waveJobRepo)(nil)

type waveJobRepo struct {
	pool *pgxpool.Pool
}

func NewWaveJobRepo(pool *pgxpool.Pool) *waveJobRepo {
	return &waveJobRepo{pool: pool}
}

const waveJobColumns = `id, owner_id, campaign_kind, context, recipient_ids, wave_index, total_waves,
  schedule_at, status, sent_count, skipped_count, failed_count, last_error, created_at, updated_at`

func scanWaveJob(row pgx.Row) (*model.WaveJob, error) {
	var (
		j            model.WaveJob
		kind, status string
		wctx         []byte
	)
	err := row.Scan(&j.ID, &j.OwnerID, &kind, &wctx, &j.RecipientIDs, &j.WaveIndex, &j.TotalWaves,
		&j.ScheduleAt, &status, &j.SentCount, &j.SkippedCount, &j.FailedCount, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, scanErr(err)
	}
	if err := json.Unmarshal(wctx, &j.Context); err != nil {
		return nil, fmt.Errorf("%w: wave job %s context: %v", domain.ErrReadDatabaseRow, j.ID, err)
	}
	j.CampaignKind = model.CampaignKind(kind)
	j.Status = model.JobStatus(status)
	return &j, nil
}

func (r *waveJobRepo) InsertWaveJob(ctx context.Context, tx repository.Tx, job *model.WaveJob) (string, error) {
	if job.ID == "" || len(job.RecipientIDs) == 0 {
		return "", domain.ErrInvalidArgument
	}
	wctx, err := json.Marshal(job.Context)
	if err != nil {
		return "", fmt.Errorf("encode wave context: %w", err)
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}

	const q = `
INSERT INTO wave_jobs (id, owner_id, campaign_kind, campaign_id, context, recipient_ids,
  wave_index, total_waves, schedule_at, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, job.OwnerID, string(job.CampaignKind), job.Context.CampaignID, string(wctx), job.RecipientIDs,
		job.WaveIndex, job.TotalWaves, job.ScheduleAt, string(job.Status), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return "", opErr(err)
	}
	return job.ID, nil
}

func (r *waveJobRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.WaveJob, error) {
	var out []*model.WaveJob
	err := queryRows(ctx, r.pool, tx, q, func(rows pgx.Rows) error {
		j, err := scanWaveJob(rows)
		if err != nil {
			return err
		}
		out = append(out, j)
		return nil
	}, args...)
	if err != nil {
		return nil, opErr(err)
	}
	return out, nil
}

// ListDueJobs locks the returned rows when called inside a transaction, so
// concurrent schedulers claim disjoint batches.
func (r *waveJobRepo) ListDueJobs(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.WaveJob, error) {
	q := forUpdate(`SELECT `+waveJobColumns+` FROM wave_jobs
WHERE status = 'pending' AND schedule_at <= $1
ORDER BY schedule_at, wave_index
LIMIT $2`, tx)
	return r.list(ctx, tx, q, now, limit)
}

func (r *waveJobRepo) ClaimJob(ctx context.Context, tx repository.Tx, jobID string) (bool, error) {
	const q = `UPDATE wave_jobs SET status = 'processing', updated_at = NOW() WHERE id = $1 AND status = 'pending'`
	tag, err := execSQL(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return false, opErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *waveJobRepo) UpdateJobStatus(ctx context.Context, tx repository.Tx, jobID string, status model.JobStatus, counts *model.WaveCounts, lastErr string) error {
	var c model.WaveCounts
	if counts != nil {
		c = *counts
	}
	const q = `
UPDATE wave_jobs SET
  status = $2, sent_count = $3, skipped_count = $4, failed_count = $5, last_error = $6, updated_at = NOW()
WHERE id = $1`
	tag, err := execSQL(ctx, r.pool, tx, q, jobID, string(status), c.Sent, c.Skipped, c.Failed, lastErr)
	if err != nil {
		return opErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListStuck returns jobs left in processing since before olderThan.
func (r *waveJobRepo) ListStuck(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.WaveJob, error) {
	q := `SELECT ` + waveJobColumns + ` FROM wave_jobs
WHERE status = 'processing' AND updated_at < $1
ORDER BY updated_at
LIMIT $2`
	return r.list(ctx, tx, q, olderThan, limit)
}

func (r *waveJobRepo) ListByCampaign(ctx context.Context, tx repository.Tx, campaignID string) ([]*model.WaveJob, error) {
	q := `SELECT ` + waveJobColumns + ` FROM wave_jobs WHERE campaign_id = $1 ORDER BY wave_index`
	return r.list(ctx, tx, q, campaignID)
}
