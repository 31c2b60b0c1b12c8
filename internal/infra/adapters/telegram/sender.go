package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"telegram-campaign-bot/internal/config"
	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/adapter"
	"telegram-campaign-bot/internal/infra/metrics"
)

var _ adapter.Sender = (*Sender)(nil)

// BotAPI is the part of *tgbotapi.BotAPI the sender needs.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NewBotAPI connects to the Bot API with the configured token.
func NewBotAPI(cfg *config.BotConfig) (*tgbotapi.BotAPI, error) {
	if cfg == nil || cfg.Token == "" {
		return nil, errors.New("bot token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

// content is the JSON stored in campaigns.content.
type content struct {
	Text      string     `json:"text"`
	Photo     string     `json:"photo,omitempty"`
	ParseMode string     `json:"parse_mode,omitempty"`
	Buttons   [][]button `json:"buttons,omitempty"`
}

type button struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
	Data string `json:"data,omitempty"`
}

// plan is one entry of campaigns.plans. Plans with a payment link become URL buttons.
type plan struct {
	Name       string `json:"name"`
	Label      string `json:"label,omitempty"`
	PaymentURL string `json:"payment_url,omitempty"`
}

// Sender delivers campaign content through the Telegram Bot API and classifies
// failures for the rate limiter.
type Sender struct {
	bot BotAPI
	log *zerolog.Logger
}

func NewSender(bot BotAPI, logger *zerolog.Logger) *Sender {
	compLog := logger.With().Str("component", "TelegramSender").Logger()
	return &Sender{bot: bot, log: &compLog}
}

func (s *Sender) Send(ctx context.Context, chatID int64, campaign *model.CampaignSnapshot, rc adapter.RenderContext) adapter.SendResult {
	if err := ctx.Err(); err != nil {
		return adapter.SendResult{Err: err}
	}
	if campaign == nil {
		return adapter.SendResult{Err: errors.New("no campaign to render")}
	}
	msg, method, err := buildMessage(chatID, campaign, rc)
	if err != nil {
		metrics.IncTelegramError("render")
		return adapter.SendResult{Err: fmt.Errorf("render campaign %s: %w", campaign.ID, err)}
	}

	start := time.Now()
	_, err = s.bot.Send(msg)
	metrics.ObserveTelegramSend(method, time.Since(start).Milliseconds(), err == nil)
	if err == nil {
		return adapter.SendResult{OK: true}
	}

	res := classify(err)
	switch {
	case res.Throttled:
		metrics.IncTelegramError("throttled")
		s.log.Warn().Int64("chat_id", chatID).Dur("retry_after", res.RetryAfter).Msg("telegram throttled")
	case res.Blocked:
		metrics.IncTelegramError("blocked")
		s.log.Info().Int64("chat_id", chatID).Str("campaign_id", campaign.ID).Msg("recipient blocked the bot")
	default:
		metrics.IncTelegramError("other")
		s.log.Warn().Err(err).Int64("chat_id", chatID).Str("campaign_id", campaign.ID).Msg("telegram send failed")
	}
	return res
}

// classify maps a Bot API error to a send outcome: 429 is throttling with the
// server's retry_after, 403 means the chat is gone for good.
func classify(err error) adapter.SendResult {
	res := adapter.SendResult{Err: err}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return res
	}
	switch apiErr.Code {
	case 429:
		res.Throttled = true
		res.RetryAfter = time.Duration(apiErr.RetryAfter) * time.Second
	case 403:
		res.Blocked = true
	}
	return res
}

func buildMessage(chatID int64, campaign *model.CampaignSnapshot, rc adapter.RenderContext) (tgbotapi.Chattable, string, error) {
	var c content
	if len(campaign.Content) > 0 {
		if err := json.Unmarshal(campaign.Content, &c); err != nil {
			return nil, "", err
		}
	}
	if c.Text == "" && c.Photo == "" {
		return nil, "", errors.New("content has neither text nor photo")
	}
	text := render(c.Text, rc)
	markup, err := keyboard(c.Buttons, campaign.Plans)
	if err != nil {
		return nil, "", err
	}

	if c.Photo != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(c.Photo))
		photo.Caption = text
		photo.ParseMode = c.ParseMode
		if markup != nil {
			photo.ReplyMarkup = *markup
		}
		return photo, "sendPhoto", nil
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = c.ParseMode
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	return msg, "sendMessage", nil
}

func render(text string, rc adapter.RenderContext) string {
	name := rc.FirstName
	if name == "" {
		name = rc.Username
	}
	return strings.NewReplacer(
		"{first_name}", name,
		"{username}", rc.Username,
	).Replace(text)
}

// keyboard builds inline rows from explicit buttons followed by one URL button
// per payable plan. Nil when there is nothing to show.
func keyboard(buttons [][]button, plans json.RawMessage) (*tgbotapi.InlineKeyboardMarkup, error) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		kbRow := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			label := strings.TrimSpace(b.Text)
			if label == "" {
				label = "•"
			}
			switch {
			case b.URL != "":
				kbRow = append(kbRow, tgbotapi.NewInlineKeyboardButtonURL(label, b.URL))
			case b.Data != "":
				kbRow = append(kbRow, tgbotapi.NewInlineKeyboardButtonData(label, b.Data))
			}
		}
		if len(kbRow) > 0 {
			rows = append(rows, kbRow)
		}
	}

	if len(plans) > 0 {
		var ps []plan
		if err := json.Unmarshal(plans, &ps); err != nil {
			return nil, fmt.Errorf("plans: %w", err)
		}
		for _, p := range ps {
			if p.PaymentURL == "" {
				continue
			}
			label := p.Label
			if label == "" {
				label = p.Name
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(label, p.PaymentURL)))
		}
	}

	if len(rows) == 0 {
		return nil, nil
	}
	m := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &m, nil
}
