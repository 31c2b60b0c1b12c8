package model

import (
	"fmt"
	"time"
)

type DeliveryStatus string

const (
	DeliveryStatusQueued DeliveryStatus = "queued"
	DeliveryStatusSent   DeliveryStatus = "sent"
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// SkipReason explains why a recipient was not sent to. Empty means eligible.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipUserNotFound     SkipReason = "user_not_found"
	SkipUserBlocked      SkipReason = "user_blocked"
	SkipAlreadyPaid      SkipReason = "already_paid"
	SkipAlreadySent      SkipReason = "already_sent"
	SkipCampaignInactive SkipReason = "campaign_inactive"
)

// DeliveryEvent is a funnel event row; shots dedup on EventKey.
type DeliveryEvent struct {
	ID         string
	EventKey   string
	OwnerID    string
	ChatID     int64
	Kind       CampaignKind
	CampaignID string
	Status     DeliveryStatus
	CreatedAt  time.Time
}

// DeliveryEventKey is the composite id kind:campaignId:recipientId.
func DeliveryEventKey(kind CampaignKind, campaignID string, chatID int64) string {
	return fmt.Sprintf("%s:%s:%d", kind, campaignID, chatID)
}
