package model

import (
	"encoding/json"
	"time"
)

type CampaignKind string

const (
	CampaignKindDownsell CampaignKind = "downsell"
	CampaignKindShot     CampaignKind = "shot"
)

func (k CampaignKind) Valid() bool {
	return k == CampaignKindDownsell || k == CampaignKindShot
}

type TriggerType string

const (
	TriggerStart      TriggerType = "start"
	TriggerPix        TriggerType = "pix"
	TriggerPixCreated TriggerType = "pix_created"
)

// IsPayment reports whether the trigger targets recipients with an unpaid charge.
func (t TriggerType) IsPayment() bool {
	return t == TriggerPix || t == TriggerPixCreated
}

type ScheduleType string

const (
	ScheduleImmediate ScheduleType = "immediate"
	ScheduleScheduled ScheduleType = "scheduled"
)

// Campaign is a downsell or shot definition owned by a bot.
type Campaign struct {
	ID           string
	OwnerID      string
	Name         string
	Kind         CampaignKind
	Trigger      TriggerType
	Active       bool
	Content      json.RawMessage // opaque, consumed by the sender
	Plans        json.RawMessage // payment plan metadata, optional
	ScheduleType ScheduleType
	ScheduledAt  *time.Time
	DelayMinutes int // downsells: delay after the trigger event
	DispatchedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CampaignSnapshot is the frozen part of a campaign a wave needs to run after
// the campaign row is edited or deleted.
type CampaignSnapshot struct {
	ID      string          `json:"id"`
	OwnerID string          `json:"owner_id"`
	Kind    CampaignKind    `json:"kind"`
	Trigger TriggerType     `json:"trigger"`
	Content json.RawMessage `json:"content"`
	Plans   json.RawMessage `json:"plans,omitempty"`
}

// Snapshot freezes c. Byte slices are copied so later edits of c do not leak in.
func (c *Campaign) Snapshot() *CampaignSnapshot {
	return &CampaignSnapshot{
		ID:      c.ID,
		OwnerID: c.OwnerID,
		Kind:    c.Kind,
		Trigger: c.Trigger,
		Content: append(json.RawMessage(nil), c.Content...),
		Plans:   append(json.RawMessage(nil), c.Plans...),
	}
}
