package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-campaign-bot/internal/domain"
	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
	"telegram-campaign-bot/internal/infra/metrics"
)

// Compile-time check
var _ CampaignDispatcher = (*campaignDispatcher)(nil)

// CampaignDispatcher is the entry point triggers and the admin surface use to
// turn a campaign into queued work.
type CampaignDispatcher interface {
	// DispatchCampaign plans waves for every eligible recipient of an active campaign.
	DispatchCampaign(ctx context.Context, ownerID, campaignID string) (ScheduleResult, error)
	// DispatchDue dispatches scheduled shots whose time has come; returns how many.
	DispatchDue(ctx context.Context) (int, error)
	// ScheduleForTrigger queues one delayed send per active downsell reacting to trigger.
	ScheduleForTrigger(ctx context.Context, ownerID string, chatID int64, trigger model.TriggerType) (int, error)
}

type campaignDispatcher struct {
	campaigns repository.CampaignRepository
	sends     repository.ScheduledSendRepository
	selector  TargetSelector
	planner   WavePlanner
	tm        repository.TransactionManager
	dueLimit  int
	now       func() time.Time
	log       *zerolog.Logger
}

func NewCampaignDispatcher(
	campaigns repository.CampaignRepository,
	sends repository.ScheduledSendRepository,
	selector TargetSelector,
	planner WavePlanner,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *campaignDispatcher {
	compLog := logger.With().Str("component", "CampaignDispatch").Logger()
	return &campaignDispatcher{
		campaigns: campaigns,
		sends:     sends,
		selector:  selector,
		planner:   planner,
		tm:        tm,
		dueLimit:  10,
		now:       time.Now,
		log:       &compLog,
	}
}

// SetClock overrides the dispatcher's time source.
func (d *campaignDispatcher) SetClock(now func() time.Time) { d.now = now }

func (d *campaignDispatcher) DispatchCampaign(ctx context.Context, ownerID, campaignID string) (ScheduleResult, error) {
	c, err := d.campaigns.Get(ctx, repository.NoTX, campaignID, ownerID)
	if err != nil {
		return ScheduleResult{}, err
	}
	return d.dispatch(ctx, c)
}

// dispatch refuses inactive campaigns, freezes shots into the job context and
// plans the waves. For shots dispatched_at is set in the same transaction, so a
// shot is planned at most once.
func (d *campaignDispatcher) dispatch(ctx context.Context, c *model.Campaign) (ScheduleResult, error) {
	if !c.Active {
		return ScheduleResult{}, fmt.Errorf("%w: %s", domain.ErrCampaignInactive, c.ID)
	}
	if !c.Kind.Valid() {
		return ScheduleResult{}, fmt.Errorf("%w: %q", domain.ErrUnknownCampaignKind, c.Kind)
	}

	wctx := model.WaveContext{CampaignID: c.ID}
	if c.Kind == model.CampaignKindShot {
		wctx.Snapshot = c.Snapshot()
	}
	recipients, err := d.selector.SelectTargets(ctx, c.OwnerID, c.Kind, wctx)
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("select targets: %w", err)
	}
	targets := model.ChatIDs(recipients)

	var (
		res     ScheduleResult
		planned bool
	)
	err = d.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if c.Kind == model.CampaignKindShot {
			first, err := d.campaigns.MarkDispatched(ctx, tx, c.ID, d.now())
			if err != nil {
				return fmt.Errorf("mark dispatched: %w", err)
			}
			if !first {
				d.log.Info().Str("campaign_id", c.ID).Msg("shot already dispatched")
				return nil
			}
		}
		var err error
		res, err = d.planner.ScheduleInWavesTx(ctx, tx, ScheduleRequest{
			OwnerID: c.OwnerID,
			Kind:    c.Kind,
			Context: wctx,
			Targets: targets,
		})
		planned = err == nil
		return err
	})
	if err != nil {
		return ScheduleResult{}, err
	}
	if planned {
		metrics.IncCampaignDispatched(string(c.Kind))
	}
	return res, nil
}

func (d *campaignDispatcher) DispatchDue(ctx context.Context) (int, error) {
	due, err := d.campaigns.ListDueScheduled(ctx, repository.NoTX, d.now(), d.dueLimit)
	if err != nil {
		return 0, fmt.Errorf("list due campaigns: %w", err)
	}
	n := 0
	for _, c := range due {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		res, err := d.dispatch(ctx, c)
		if err != nil {
			d.log.Error().Err(err).Str("campaign_id", c.ID).Msg("scheduled dispatch failed")
			continue
		}
		n++
		d.log.Info().
			Str("campaign_id", c.ID).
			Int("targets", res.TotalTargets).
			Int("waves", res.WaveCount).
			Msg("scheduled campaign dispatched")
	}
	return n, nil
}

func (d *campaignDispatcher) ScheduleForTrigger(ctx context.Context, ownerID string, chatID int64, trigger model.TriggerType) (int, error) {
	downsells, err := d.campaigns.ListActiveByTrigger(ctx, repository.NoTX, ownerID, trigger)
	if err != nil {
		return 0, fmt.Errorf("list downsells: %w", err)
	}
	now := d.now()
	n := 0
	for _, c := range downsells {
		send := &model.ScheduledSend{
			ID:           uuid.NewString(),
			OwnerID:      ownerID,
			ChatID:       chatID,
			CampaignKind: c.Kind,
			CampaignID:   c.ID,
			ScheduleAt:   now.Add(time.Duration(c.DelayMinutes) * time.Minute),
			Status:       model.JobStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if _, err := d.sends.Insert(ctx, repository.NoTX, send); err != nil {
			return n, fmt.Errorf("queue send for %s: %w", c.ID, err)
		}
		n++
	}
	if n > 0 {
		d.log.Info().Int64("chat_id", chatID).Str("trigger", string(trigger)).Int("queued", n).Msg("trigger sends queued")
	}
	return n, nil
}
