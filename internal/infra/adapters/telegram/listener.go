package telegram

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
	"telegram-campaign-bot/internal/infra/logging"
)

// UpdatesAPI is the polling half of *tgbotapi.BotAPI.
type UpdatesAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TriggerScheduler queues the trigger-reacting campaigns for one recipient.
type TriggerScheduler interface {
	ScheduleForTrigger(ctx context.Context, ownerID string, chatID int64, trigger model.TriggerType) (int, error)
}

// Listener turns incoming /start commands into recipients and start-triggered sends.
type Listener struct {
	bot        UpdatesAPI
	ownerID    string
	recipients repository.RecipientRepository
	triggers   TriggerScheduler
	workers    int
	log        *zerolog.Logger
}

func NewListener(bot UpdatesAPI, ownerID string, recipients repository.RecipientRepository, triggers TriggerScheduler, workers int, logger *zerolog.Logger) *Listener {
	if workers <= 0 {
		workers = 4
	}
	compLog := logger.With().Str("component", "TriggerListener").Logger()
	return &Listener{
		bot:        bot,
		ownerID:    ownerID,
		recipients: recipients,
		triggers:   triggers,
		workers:    workers,
		log:        &compLog,
	}
}

// Run polls until ctx is done, handing updates to a fixed set of workers.
func (l *Listener) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := l.bot.GetUpdatesChan(u)
	defer l.bot.StopReceivingUpdates()

	work := make(chan tgbotapi.Update, 100)
	var wg sync.WaitGroup
	for i := 0; i < l.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for up := range work {
				if err := l.HandleUpdate(ctx, up); err != nil {
					l.log.Error().Err(err).Int("worker", id).Int("update_id", up.UpdateID).Msg("update failed")
				}
			}
		}(i)
	}

	defer func() {
		close(work)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case work <- up:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// HandleUpdate reacts to /start; everything else is ignored.
func (l *Listener) HandleUpdate(ctx context.Context, up tgbotapi.Update) error {
	msg := up.Message
	if msg == nil || !msg.IsCommand() || msg.Command() != "start" || msg.Chat == nil {
		return nil
	}
	chatID := msg.Chat.ID
	ctx = logging.WithOwnerID(ctx, l.ownerID)

	rec := &model.Recipient{OwnerID: l.ownerID, ChatID: chatID}
	if msg.From != nil {
		rec.FirstName = msg.From.FirstName
		rec.Username = msg.From.UserName
	}
	if existing, err := l.recipients.FindOne(ctx, repository.NoTX, l.ownerID, chatID); err == nil {
		rec.CreatedAt = existing.CreatedAt
	}
	// writing to us again means the chat is reachable
	rec.Blocked = false
	if err := l.recipients.Save(ctx, repository.NoTX, rec); err != nil {
		return fmt.Errorf("save recipient %d: %w", chatID, err)
	}

	n, err := l.triggers.ScheduleForTrigger(ctx, l.ownerID, chatID, model.TriggerStart)
	if err != nil {
		return fmt.Errorf("schedule start trigger for %d: %w", chatID, err)
	}
	logging.With(ctx, l.log).Debug().Int64("chat_id", chatID).Int("queued", n).Msg("start handled")
	return nil
}
