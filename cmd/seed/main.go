package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"telegram-campaign-bot/internal/config"
	"telegram-campaign-bot/internal/domain"
	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
	pg "telegram-campaign-bot/internal/infra/db/postgres"
)

// seed fills a development database with recipients, payments and one campaign
// of each kind so a local run has something to send.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	n := flag.Int("recipients", 45, "number of recipients to create")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := pg.Migrate(cfg.Database.URL); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	owner := cfg.Bot.OwnerID
	campaigns := pg.NewCampaignRepo(pool)

	// If the demo shot exists, do nothing
	if _, err := campaigns.Get(ctx, repository.NoTX, "demo-shot", owner); err == nil {
		fmt.Println("demo data already present. No changes.")
		return
	} else if !errors.Is(err, domain.ErrNotFound) {
		log.Fatal().Err(err).Msg("lookup demo campaign")
	}

	recipients := pg.NewRecipientRepo(pool)
	payments := pg.NewPaymentRepo(pool)
	base := time.Now().Add(-24 * time.Hour)
	for i := 1; i <= *n; i++ {
		r := &model.Recipient{
			OwnerID:   owner,
			ChatID:    int64(100000 + i),
			FirstName: fmt.Sprintf("user%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := recipients.Save(ctx, repository.NoTX, r); err != nil {
			log.Fatal().Err(err).Int64("chat_id", r.ChatID).Msg("save recipient")
		}
		// every third recipient has an open pix charge, every fifth has paid
		status := model.PaymentStatus("")
		switch {
		case i%5 == 0:
			status = model.PaymentStatusPaid
		case i%3 == 0:
			status = model.PaymentStatusCreated
		}
		if status != "" {
			p := &model.Payment{ID: fmt.Sprintf("demo-pay-%d", i), OwnerID: owner, ChatID: r.ChatID, Amount: 1990, Status: status}
			if err := payments.Save(ctx, repository.NoTX, p); err != nil {
				log.Fatal().Err(err).Msg("save payment")
			}
		}
	}

	plans, _ := json.Marshal([]map[string]string{
		{"name": "vip", "label": "VIP 30 dias", "payment_url": "https://pay.example.com/vip"},
	})
	now := time.Now()
	seed := []*model.Campaign{
		{
			ID: "demo-shot", OwnerID: owner, Name: "Demo shot", Kind: model.CampaignKindShot,
			Trigger: model.TriggerStart, Active: true,
			Content:      json.RawMessage(`{"text":"Oi {first_name}, oferta de hoje!"}`),
			Plans:        plans,
			ScheduleType: model.ScheduleScheduled, ScheduledAt: &now,
		},
		{
			ID: "demo-downsell-start", OwnerID: owner, Name: "Start downsell", Kind: model.CampaignKindDownsell,
			Trigger: model.TriggerStart, Active: true, DelayMinutes: 10,
			Content:      json.RawMessage(`{"text":"Ainda pensando, {first_name}?"}`),
			ScheduleType: model.ScheduleImmediate,
		},
		{
			ID: "demo-downsell-pix", OwnerID: owner, Name: "Pix reminder", Kind: model.CampaignKindDownsell,
			Trigger: model.TriggerPix, Active: true, DelayMinutes: 30,
			Content:      json.RawMessage(`{"text":"Seu pix ainda está aberto."}`),
			ScheduleType: model.ScheduleImmediate,
		},
	}
	for _, c := range seed {
		if err := campaigns.Save(ctx, repository.NoTX, c); err != nil {
			log.Fatal().Err(err).Str("campaign_id", c.ID).Msg("save campaign")
		}
		fmt.Printf("seeded campaign %s (%s, trigger=%s)\n", c.ID, c.Kind, c.Trigger)
	}
	fmt.Printf("seeded %d recipients for owner %s\n", *n, owner)
}
