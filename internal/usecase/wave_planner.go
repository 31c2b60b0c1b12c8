package usecase

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"telegram-campaign-bot/internal/domain"
	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
	"telegram-campaign-bot/internal/infra/metrics"
)

// Compile-time check
var _ WavePlanner = (*wavePlanner)(nil)

// ScheduleRequest asks for one dispatch of a campaign. Targets nil means "compute
// them now"; an empty non-nil slice means nobody.
type ScheduleRequest struct {
	OwnerID string
	Kind    model.CampaignKind
	Context model.WaveContext
	Targets []int64
}

type ScheduleResult struct {
	TotalTargets int `json:"total_targets"`
	WaveCount    int `json:"wave_count"`
	JobsQueued   int `json:"jobs_queued"`
}

type WavePlanner interface {
	ScheduleInWaves(ctx context.Context, req ScheduleRequest) (ScheduleResult, error)
	// ScheduleInWavesTx persists the waves inside the caller's transaction.
	ScheduleInWavesTx(ctx context.Context, tx repository.Tx, req ScheduleRequest) (ScheduleResult, error)
}

type PlannerConfig struct {
	WaveSize     int
	WaveDuration time.Duration
}

type wavePlanner struct {
	jobs     repository.WaveJobRepository
	selector TargetSelector
	tm       repository.TransactionManager
	cfg      PlannerConfig
	now      func() time.Time
	newID    func(t time.Time) string
	log      *zerolog.Logger
}

func NewWavePlanner(
	jobs repository.WaveJobRepository,
	selector TargetSelector,
	tm repository.TransactionManager,
	cfg PlannerConfig,
	logger *zerolog.Logger,
) *wavePlanner {
	if cfg.WaveSize <= 0 {
		cfg.WaveSize = 20
	}
	if cfg.WaveDuration <= 0 {
		cfg.WaveDuration = time.Second
	}
	compLog := logger.With().Str("component", "WavePlanner").Logger()
	return &wavePlanner{
		jobs:     jobs,
		selector: selector,
		tm:       tm,
		cfg:      cfg,
		now:      time.Now,
		newID:    newJobID(),
		log:      &compLog,
	}
}

// SetClock overrides the planner's time source.
func (p *wavePlanner) SetClock(now func() time.Time) { p.now = now }

// newJobID returns a ulid generator; ids sort by creation time.
// Monotonic entropy is not goroutine-safe, hence the lock.
func newJobID() func(t time.Time) string {
	var mu sync.Mutex
	entropy := ulid.Monotonic(rand.Reader, 0)
	return func(t time.Time) string {
		mu.Lock()
		defer mu.Unlock()
		return ulid.MustNew(ulid.Timestamp(t), entropy).String()
	}
}

// PartitionWaves splits targets into consecutive chunks of size, keeping order.
// Every chunk but the last has exactly size elements.
func PartitionWaves(targets []int64, size int) [][]int64 {
	if size <= 0 || len(targets) == 0 {
		return nil
	}
	waves := make([][]int64, 0, (len(targets)+size-1)/size)
	for start := 0; start < len(targets); start += size {
		end := start + size
		if end > len(targets) {
			end = len(targets)
		}
		chunk := make([]int64, end-start)
		copy(chunk, targets[start:end])
		waves = append(waves, chunk)
	}
	return waves
}

func (p *wavePlanner) ScheduleInWaves(ctx context.Context, req ScheduleRequest) (ScheduleResult, error) {
	var res ScheduleResult
	err := p.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		res, err = p.ScheduleInWavesTx(ctx, tx, req)
		return err
	})
	return res, err
}

// ScheduleInWavesTx splits the targets into waves of WaveSize and inserts one
// pending job per wave, wave i due at now + i*WaveDuration. Nothing is sent here.
func (p *wavePlanner) ScheduleInWavesTx(ctx context.Context, tx repository.Tx, req ScheduleRequest) (ScheduleResult, error) {
	if !req.Kind.Valid() {
		return ScheduleResult{}, fmt.Errorf("%w: %q", domain.ErrUnknownCampaignKind, req.Kind)
	}
	targets := req.Targets
	if targets == nil {
		rs, err := p.selector.SelectTargets(ctx, req.OwnerID, req.Kind, req.Context)
		if err != nil {
			return ScheduleResult{}, fmt.Errorf("select targets: %w", err)
		}
		targets = model.ChatIDs(rs)
	}
	if len(targets) == 0 {
		p.log.Info().Str("campaign_id", req.Context.CampaignID).Msg("no targets; nothing scheduled")
		return ScheduleResult{}, nil
	}

	waves := PartitionWaves(targets, p.cfg.WaveSize)
	now := p.now()
	for i, ids := range waves {
		job := &model.WaveJob{
			ID:           p.newID(now),
			OwnerID:      req.OwnerID,
			CampaignKind: req.Kind,
			Context:      req.Context,
			RecipientIDs: ids,
			WaveIndex:    i,
			TotalWaves:   len(waves),
			ScheduleAt:   now.Add(time.Duration(i) * p.cfg.WaveDuration),
			Status:       model.JobStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if _, err := p.jobs.InsertWaveJob(ctx, tx, job); err != nil {
			return ScheduleResult{}, fmt.Errorf("insert wave %d/%d: %w", i+1, len(waves), err)
		}
	}

	metrics.AddWavesPlanned(string(req.Kind), len(waves))
	p.log.Info().
		Str("campaign_id", req.Context.CampaignID).
		Str("kind", string(req.Kind)).
		Int("targets", len(targets)).
		Int("waves", len(waves)).
		Msg("waves scheduled")
	return ScheduleResult{TotalTargets: len(targets), WaveCount: len(waves), JobsQueued: len(waves)}, nil
}
