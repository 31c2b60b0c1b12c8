package model

import "time"

// ScheduledSend is a single-recipient send scheduled by a per-user trigger,
// e.g. a downsell N minutes after /start.
type ScheduledSend struct {
	ID           string
	OwnerID      string
	ChatID       int64
	CampaignKind CampaignKind
	CampaignID   string
	ScheduleAt   time.Time
	Status       JobStatus
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
