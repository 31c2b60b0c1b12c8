package repository

import (
	"context"
	"time"

	"telegram-campaign-bot/internal/domain/model"
)

// -----------------------------
// Wave jobs
// -----------------------------

type WaveJobRepository interface {
	InsertWaveJob(ctx context.Context, tx Tx, job *model.WaveJob) (string, error)
	// ListDueJobs returns pending jobs with schedule_at <= now, ascending by schedule_at.
	ListDueJobs(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.WaveJob, error)
	// ClaimJob moves a job from pending to processing; false when another worker got it.
	ClaimJob(ctx context.Context, tx Tx, jobID string) (bool, error)
	UpdateJobStatus(ctx context.Context, tx Tx, jobID string, status model.JobStatus, counts *model.WaveCounts, lastErr string) error
	ListStuck(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.WaveJob, error)
	ListByCampaign(ctx context.Context, tx Tx, campaignID string) ([]*model.WaveJob, error)
}

// -----------------------------
// Scheduled single sends
// -----------------------------

type ScheduledSendRepository interface {
	Insert(ctx context.Context, tx Tx, s *model.ScheduledSend) (string, error)
	ListDue(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.ScheduledSend, error)
	Claim(ctx context.Context, tx Tx, id string) (bool, error)
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.JobStatus, lastErr string) error
}
