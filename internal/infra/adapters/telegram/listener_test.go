package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-campaign-bot/internal/domain"
	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
)

type memRecipients struct {
	byChat map[int64]*model.Recipient
}

func (m *memRecipients) ListActive(context.Context, repository.Tx, string) ([]*model.Recipient, error) {
	return nil, nil
}

func (m *memRecipients) FindOne(_ context.Context, _ repository.Tx, _ string, chatID int64) (*model.Recipient, error) {
	r, ok := m.byChat[chatID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRecipients) Save(_ context.Context, _ repository.Tx, r *model.Recipient) error {
	cp := *r
	m.byChat[r.ChatID] = &cp
	return nil
}

func (m *memRecipients) MarkBlocked(_ context.Context, _ repository.Tx, _ string, chatID int64) error {
	m.byChat[chatID].Blocked = true
	return nil
}

type triggerCall struct {
	chatID  int64
	trigger model.TriggerType
}

type fakeTriggers struct {
	calls []triggerCall
	err   error
}

func (f *fakeTriggers) ScheduleForTrigger(_ context.Context, _ string, chatID int64, trigger model.TriggerType) (int, error) {
	f.calls = append(f.calls, triggerCall{chatID, trigger})
	return 1, f.err
}

type fakeUpdates struct {
	ch      chan tgbotapi.Update
	stopped bool
}

func (f *fakeUpdates) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.ch }
func (f *fakeUpdates) StopReceivingUpdates()                                        { f.stopped = true }

func command(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: chatID, FirstName: "Ana", UserName: "ana_b"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}}
}

func newTestListener(updates UpdatesAPI) (*Listener, *memRecipients, *fakeTriggers) {
	nop := zerolog.Nop()
	recipients := &memRecipients{byChat: map[int64]*model.Recipient{}}
	triggers := &fakeTriggers{}
	return NewListener(updates, "bot-1", recipients, triggers, 2, &nop), recipients, triggers
}

func TestListener_StartRegistersAndTriggers(t *testing.T) {
	ctx := context.Background()
	l, recipients, triggers := newTestListener(&fakeUpdates{})

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recipients.byChat[5] = &model.Recipient{OwnerID: "bot-1", ChatID: 5, Blocked: true, CreatedAt: created}

	require.NoError(t, l.HandleUpdate(ctx, command(5, "/start")))

	r := recipients.byChat[5]
	assert.False(t, r.Blocked, "a new /start unblocks the chat")
	assert.Equal(t, "Ana", r.FirstName)
	assert.Equal(t, created, r.CreatedAt, "creation order is kept")
	assert.Equal(t, []triggerCall{{5, model.TriggerStart}}, triggers.calls)
}

func TestListener_IgnoresOtherUpdates(t *testing.T) {
	l, recipients, triggers := newTestListener(&fakeUpdates{})
	ctx := context.Background()

	require.NoError(t, l.HandleUpdate(ctx, tgbotapi.Update{}))
	require.NoError(t, l.HandleUpdate(ctx, command(1, "/help")))
	plain := command(1, "/start")
	plain.Message.Entities = nil
	require.NoError(t, l.HandleUpdate(ctx, plain))

	assert.Empty(t, recipients.byChat)
	assert.Empty(t, triggers.calls)
}

func TestListener_TriggerErrorIsReturned(t *testing.T) {
	l, _, triggers := newTestListener(&fakeUpdates{})
	triggers.err = errors.New("db down")
	assert.ErrorIs(t, l.HandleUpdate(context.Background(), command(1, "/start")), triggers.err)
}

func TestListener_RunStopsWithContext(t *testing.T) {
	updates := &fakeUpdates{ch: make(chan tgbotapi.Update)}
	l, _, _ := newTestListener(updates)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	updates.ch <- command(9, "/help")
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, updates.stopped)
}
