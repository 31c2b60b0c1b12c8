// File: internal/domain/ports/adapter/sender.go
package adapter

import (
	"context"
	"time"

	"telegram-campaign-bot/internal/domain/model"
)

// RenderContext carries per-recipient values the sender may substitute into content.
type RenderContext struct {
	OwnerID   string
	ChatID    int64
	FirstName string
	Username  string
	Kind      model.CampaignKind
	WaveIndex int
}

// SendResult is the outcome of one delivery attempt. Failures are values, not errors,
// so the caller can tell throttling and blocked chats apart from other failures.
type SendResult struct {
	OK         bool
	Throttled  bool
	RetryAfter time.Duration
	Blocked    bool // permanent: chat blocked the bot or was deactivated
	Err        error
}

// Sender renders campaign content and delivers it to one chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, campaign *model.CampaignSnapshot, rc RenderContext) SendResult
}
