package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-campaign-bot/internal/domain"
	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/adapter"
	"telegram-campaign-bot/internal/domain/ports/repository"
	"telegram-campaign-bot/internal/infra/logging"
	"telegram-campaign-bot/internal/infra/metrics"
	"telegram-campaign-bot/internal/infra/ratelimit"
)

// Compile-time check
var _ WaveExecutor = (*waveExecutor)(nil)

// RateLimiter is the part of the send pacer the executor drives.
type RateLimiter interface {
	Acquire(ctx context.Context, chatID int64) (ratelimit.AcquireResult, error)
	ReportThrottled(chatID int64, retryAfter time.Duration)
}

type WaveExecutor interface {
	// ProcessWave sends one wave. Per-recipient failures are counted, not returned;
	// an error means the whole wave could not run.
	ProcessWave(ctx context.Context, job *model.WaveJob) (model.WaveCounts, error)
	// ProcessSingle delivers one scheduled send through the same gate.
	ProcessSingle(ctx context.Context, send *model.ScheduledSend) (model.WaveCounts, error)
}

type waveExecutor struct {
	selector   TargetSelector
	campaigns  repository.CampaignRepository
	recipients repository.RecipientRepository
	recorder   repository.EventRecorder
	limiter    RateLimiter
	sender     adapter.Sender
	tm         repository.TransactionManager
	log        *zerolog.Logger
}

func NewWaveExecutor(
	selector TargetSelector,
	campaigns repository.CampaignRepository,
	recipients repository.RecipientRepository,
	recorder repository.EventRecorder,
	limiter RateLimiter,
	sender adapter.Sender,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *waveExecutor {
	compLog := logger.With().Str("component", "WaveExecutor").Logger()
	return &waveExecutor{
		selector:   selector,
		campaigns:  campaigns,
		recipients: recipients,
		recorder:   recorder,
		limiter:    limiter,
		sender:     sender,
		tm:         tm,
		log:        &compLog,
	}
}

// resolveCampaign reads the live campaign for its active flag. Content comes from
// the frozen snapshot when the job carries one; the snapshot also stands in for a
// campaign row that is already gone. An inactive campaign returns ok=false.
func (e *waveExecutor) resolveCampaign(ctx context.Context, ownerID string, wctx model.WaveContext) (snap *model.CampaignSnapshot, ok bool, err error) {
	c, err := e.campaigns.Get(ctx, repository.NoTX, wctx.CampaignID, ownerID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if wctx.Snapshot != nil {
			return wctx.Snapshot, true, nil
		}
		return nil, false, fmt.Errorf("%w: %s", domain.ErrNoSnapshot, wctx.CampaignID)
	case err != nil:
		return nil, false, fmt.Errorf("load campaign: %w", err)
	}
	if wctx.Snapshot != nil {
		return wctx.Snapshot, c.Active, nil
	}
	return c.Snapshot(), c.Active, nil
}

func (e *waveExecutor) ProcessWave(ctx context.Context, job *model.WaveJob) (model.WaveCounts, error) {
	ctx = logging.WithJobID(logging.WithCampaignID(ctx, job.Context.CampaignID), job.ID)
	log := logging.With(ctx, e.log)
	defer logging.TraceDuration(log, "WaveExecutor.ProcessWave")()

	var counts model.WaveCounts
	snap, active, err := e.resolveCampaign(ctx, job.OwnerID, job.Context)
	if err != nil {
		return counts, err
	}
	if !active {
		counts.Skipped = len(job.RecipientIDs)
		for range job.RecipientIDs {
			metrics.IncSkip(string(job.CampaignKind), string(model.SkipCampaignInactive))
		}
		log.Info().Int("skipped", counts.Skipped).Msg("campaign inactive; wave skipped")
		return counts, nil
	}

	for _, chatID := range job.RecipientIDs {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		c, err := e.deliver(ctx, log, job.OwnerID, chatID, snap, job.WaveIndex)
		counts.Add(c)
		if err != nil {
			return counts, err
		}
	}

	log.Info().
		Int("wave", job.WaveIndex+1).
		Int("of", job.TotalWaves).
		Int("sent", counts.Sent).
		Int("skipped", counts.Skipped).
		Int("failed", counts.Failed).
		Msg("wave processed")

	if job.IsFinalWave() && job.CampaignKind == model.CampaignKindShot {
		if err := e.finishShot(ctx, snap); err != nil {
			// deliveries already happened; the job itself still completed
			log.Error().Err(err).Msg("shot cleanup after final wave failed")
		}
	}
	return counts, nil
}

func (e *waveExecutor) ProcessSingle(ctx context.Context, send *model.ScheduledSend) (model.WaveCounts, error) {
	ctx = logging.WithJobID(logging.WithCampaignID(ctx, send.CampaignID), send.ID)
	log := logging.With(ctx, e.log)

	var counts model.WaveCounts
	snap, active, err := e.resolveCampaign(ctx, send.OwnerID, model.WaveContext{CampaignID: send.CampaignID})
	if err != nil {
		return counts, err
	}
	if !active {
		metrics.IncSkip(string(send.CampaignKind), string(model.SkipCampaignInactive))
		counts.Skipped = 1
		return counts, nil
	}
	return e.deliver(ctx, log, send.OwnerID, send.ChatID, snap, 0)
}

// deliver runs one recipient through revalidation, the limiter and the sender.
// The returned error is reserved for ctx cancellation.
func (e *waveExecutor) deliver(ctx context.Context, log *zerolog.Logger, ownerID string, chatID int64, snap *model.CampaignSnapshot, waveIndex int) (model.WaveCounts, error) {
	var c model.WaveCounts
	kind := string(snap.Kind)

	r, reason, err := e.selector.CheckEligibility(ctx, ownerID, chatID, snap)
	if err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("eligibility check failed")
		metrics.IncDelivery(kind, "failed")
		c.Failed++
		return c, nil
	}
	if reason != model.SkipNone {
		log.Debug().Int64("chat_id", chatID).Str("reason", string(reason)).Msg("recipient skipped")
		metrics.IncSkip(kind, string(reason))
		c.Skipped++
		return c, nil
	}

	if _, err := e.limiter.Acquire(ctx, chatID); err != nil {
		return c, err
	}

	res := e.sender.Send(ctx, chatID, snap, adapter.RenderContext{
		OwnerID:   ownerID,
		ChatID:    chatID,
		FirstName: r.FirstName,
		Username:  r.Username,
		Kind:      snap.Kind,
		WaveIndex: waveIndex,
	})
	switch {
	case res.OK:
		c.Sent++
		metrics.IncDelivery(kind, "sent")
		if err := e.recorder.RecordDelivery(ctx, repository.NoTX, ownerID, chatID, snap.Kind, snap.ID); err != nil {
			log.Error().Err(err).Int64("chat_id", chatID).Msg("record delivery failed")
		}
	case res.Throttled:
		c.Failed++
		metrics.IncDelivery(kind, "throttled")
		e.limiter.ReportThrottled(chatID, res.RetryAfter)
	case res.Blocked:
		c.Failed++
		metrics.IncDelivery(kind, "blocked")
		if err := e.recipients.MarkBlocked(ctx, repository.NoTX, ownerID, chatID); err != nil {
			log.Warn().Err(err).Int64("chat_id", chatID).Msg("mark blocked failed")
		}
	default:
		c.Failed++
		metrics.IncDelivery(kind, "failed")
		log.Warn().Err(res.Err).Int64("chat_id", chatID).Msg("send failed")
	}
	return c, nil
}

// finishShot archives the payment plans of a consumed shot and deletes it.
func (e *waveExecutor) finishShot(ctx context.Context, snap *model.CampaignSnapshot) error {
	return e.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if len(snap.Plans) > 0 {
			if err := e.campaigns.ArchivePlans(ctx, tx, snap.ID, snap.Plans); err != nil {
				return fmt.Errorf("archive plans: %w", err)
			}
		}
		if err := e.campaigns.DeleteAfterFinalWave(ctx, tx, snap.ID); err != nil {
			return fmt.Errorf("delete campaign: %w", err)
		}
		return nil
	})
}
