package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"telegram-campaign-bot/internal/domain"
	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
)

// Compile-time check
var _ TargetSelector = (*targetSelector)(nil)

// TargetSelector computes who a campaign may be sent to. SelectTargets is the bulk
// query used at planning time; CheckEligibility is the same rule set applied to one
// chat at send time.
type TargetSelector interface {
	SelectTargets(ctx context.Context, ownerID string, kind model.CampaignKind, wctx model.WaveContext) ([]*model.Recipient, error)
	CheckEligibility(ctx context.Context, ownerID string, chatID int64, campaign *model.CampaignSnapshot) (*model.Recipient, model.SkipReason, error)
}

// DedupRegistry selects the dedup store for a campaign kind: downsells use the
// delivery queue, shots use the funnel event log.
type DedupRegistry map[model.CampaignKind]repository.DedupChecker

func (r DedupRegistry) For(kind model.CampaignKind) (repository.DedupChecker, error) {
	d, ok := r[kind]
	if !ok || d == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCampaignKind, kind)
	}
	return d, nil
}

type targetSelector struct {
	recipients repository.RecipientRepository
	payments   repository.PaymentRepository
	campaigns  repository.CampaignRepository
	dedup      DedupRegistry
	log        *zerolog.Logger
}

func NewTargetSelector(
	recipients repository.RecipientRepository,
	payments repository.PaymentRepository,
	campaigns repository.CampaignRepository,
	dedup DedupRegistry,
	logger *zerolog.Logger,
) *targetSelector {
	compLog := logger.With().Str("component", "TargetSelector").Logger()
	return &targetSelector{
		recipients: recipients,
		payments:   payments,
		campaigns:  campaigns,
		dedup:      dedup,
		log:        &compLog,
	}
}

// SelectTargets returns the recipients eligible right now, in ListActive order.
// A missing campaign yields no targets; active/inactive gating belongs to the caller.
func (s *targetSelector) SelectTargets(ctx context.Context, ownerID string, kind model.CampaignKind, wctx model.WaveContext) ([]*model.Recipient, error) {
	all, err := s.recipients.ListActive(ctx, repository.NoTX, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	if len(all) == 0 {
		return []*model.Recipient{}, nil
	}

	campaign, err := s.campaigns.Get(ctx, repository.NoTX, wctx.CampaignID, ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Info().Str("campaign_id", wctx.CampaignID).Msg("campaign not found; no targets")
			return []*model.Recipient{}, nil
		}
		return nil, fmt.Errorf("load campaign: %w", err)
	}

	targets := all
	if campaign.Trigger.IsPayment() {
		targets, err = s.filterUnpaid(ctx, ownerID, targets)
		if err != nil {
			return nil, err
		}
	}

	checker, err := s.dedup.For(kind)
	if err != nil {
		return nil, err
	}
	sent, err := checker.SentAmong(ctx, repository.NoTX, campaign.ID, model.ChatIDs(targets))
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}

	out := make([]*model.Recipient, 0, len(targets))
	for _, r := range targets {
		if _, done := sent[r.ChatID]; done {
			continue
		}
		out = append(out, r)
	}
	s.log.Debug().
		Str("campaign_id", campaign.ID).
		Int("active", len(all)).
		Int("eligible", len(out)).
		Msg("targets selected")
	return out, nil
}

// filterUnpaid keeps recipients with a created/pending payment and no paid one.
func (s *targetSelector) filterUnpaid(ctx context.Context, ownerID string, rs []*model.Recipient) ([]*model.Recipient, error) {
	unpaid, err := s.payments.ChatsWithPaymentInStates(ctx, repository.NoTX, ownerID, model.UnpaidPaymentStates)
	if err != nil {
		return nil, fmt.Errorf("unpaid payments: %w", err)
	}
	paid, err := s.payments.ChatsWithPaymentInStates(ctx, repository.NoTX, ownerID, model.PaidPaymentStates)
	if err != nil {
		return nil, fmt.Errorf("paid payments: %w", err)
	}
	out := make([]*model.Recipient, 0, len(rs))
	for _, r := range rs {
		_, hasUnpaid := unpaid[r.ChatID]
		_, hasPaid := paid[r.ChatID]
		if hasUnpaid && !hasPaid {
			out = append(out, r)
		}
	}
	return out, nil
}

// CheckEligibility re-applies the selection rules to one chat. A non-empty reason
// means the chat must be skipped; errors are store failures only.
func (s *targetSelector) CheckEligibility(ctx context.Context, ownerID string, chatID int64, campaign *model.CampaignSnapshot) (*model.Recipient, model.SkipReason, error) {
	r, err := s.recipients.FindOne(ctx, repository.NoTX, ownerID, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, model.SkipUserNotFound, nil
		}
		return nil, model.SkipNone, fmt.Errorf("find recipient: %w", err)
	}
	if r.Blocked {
		return r, model.SkipUserBlocked, nil
	}

	if campaign.Trigger.IsPayment() {
		paid, err := s.payments.HasPaymentInStates(ctx, repository.NoTX, ownerID, chatID, model.PaidPaymentStates)
		if err != nil {
			return r, model.SkipNone, fmt.Errorf("payment lookup: %w", err)
		}
		if paid {
			return r, model.SkipAlreadyPaid, nil
		}
	}

	checker, err := s.dedup.For(campaign.Kind)
	if err != nil {
		return r, model.SkipNone, err
	}
	sent, err := checker.AlreadySent(ctx, repository.NoTX, campaign.ID, chatID)
	if err != nil {
		return r, model.SkipNone, fmt.Errorf("dedup lookup: %w", err)
	}
	if sent {
		return r, model.SkipAlreadySent, nil
	}
	return r, model.SkipNone, nil
}
