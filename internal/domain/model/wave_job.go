package model

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// WaveContext is persisted as JSON with every wave job.
type WaveContext struct {
	CampaignID string            `json:"campaign_id"`
	Snapshot   *CampaignSnapshot `json:"snapshot,omitempty"`
}

// WaveJob is one persisted wave of a campaign dispatch. Jobs are never deleted.
type WaveJob struct {
	ID           string
	OwnerID      string
	CampaignKind CampaignKind
	Context      WaveContext
	RecipientIDs []int64
	WaveIndex    int
	TotalWaves   int
	ScheduleAt   time.Time
	Status       JobStatus
	SentCount    int
	SkippedCount int
	FailedCount  int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsFinalWave reports whether j is the last wave of its dispatch.
func (j *WaveJob) IsFinalWave() bool {
	return j.WaveIndex == j.TotalWaves-1
}

// WaveCounts tallies per-recipient outcomes of a wave.
type WaveCounts struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (c *WaveCounts) Add(o WaveCounts) {
	c.Sent += o.Sent
	c.Skipped += o.Skipped
	c.Failed += o.Failed
}
