package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
	"telegram-campaign-bot/internal/infra/metrics"
)

// BucketMaintainer is the housekeeping side of the rate limiter.
type BucketMaintainer interface {
	CleanupInactiveBuckets() int
	ResetBackoffIfQuiet(quiet time.Duration) bool
}

// StuckJobLister finds wave jobs left in processing.
type StuckJobLister interface {
	ListStuck(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.WaveJob, error)
}

type MaintenanceConfig struct {
	SweepInterval time.Duration // bucket sweep
	Spec          string        // cron spec for backoff reset and stuck report
	QuietPeriod   time.Duration
	StuckAfter    time.Duration
	StuckLimit    int
}

// Maintenance runs the periodic limiter and queue housekeeping on a cron.
type Maintenance struct {
	cron    *cron.Cron
	limiter BucketMaintainer
	jobs    StuckJobLister
	cfg     MaintenanceConfig
	now     func() time.Time
	log     *zerolog.Logger
}

func NewMaintenance(limiter BucketMaintainer, jobs StuckJobLister, cfg MaintenanceConfig, logger *zerolog.Logger) *Maintenance {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Spec == "" {
		cfg.Spec = "@every 1m"
	}
	if cfg.StuckLimit <= 0 {
		cfg.StuckLimit = 100
	}
	compLog := logger.With().Str("component", "Maintenance").Logger()
	cl := cronLogger{log: &compLog}
	return &Maintenance{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		limiter: limiter,
		jobs:    jobs,
		cfg:     cfg,
		now:     time.Now,
		log:     &compLog,
	}
}

// Start registers the jobs and starts the cron. Jobs stop receiving new runs
// when ctx is done; Stop waits for the running ones.
func (m *Maintenance) Start(ctx context.Context) error {
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", m.cfg.SweepInterval), m.SweepBuckets); err != nil {
		return fmt.Errorf("schedule bucket sweep: %w", err)
	}
	_, err := m.cron.AddFunc(m.cfg.Spec, func() {
		m.ResetBackoffIfQuiet()
		if _, err := m.ReportStuck(ctx); err != nil {
			m.log.Error().Err(err).Msg("stuck job report failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule maintenance %q: %w", m.cfg.Spec, err)
	}
	m.cron.Start()
	go func() {
		<-ctx.Done()
		m.cron.Stop()
	}()
	m.log.Info().Dur("sweep_interval", m.cfg.SweepInterval).Str("spec", m.cfg.Spec).Msg("maintenance started")
	return nil
}

// Stop halts the cron and waits for running jobs.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Maintenance) SweepBuckets() {
	m.limiter.CleanupInactiveBuckets()
}

func (m *Maintenance) ResetBackoffIfQuiet() {
	if m.cfg.QuietPeriod <= 0 {
		return
	}
	if m.limiter.ResetBackoffIfQuiet(m.cfg.QuietPeriod) {
		m.log.Info().Dur("quiet_period", m.cfg.QuietPeriod).Msg("backoff reset after quiet period")
	}
}

// ReportStuck logs and publishes wave jobs stuck in processing longer than
// StuckAfter. Requeueing them is left to the operator.
func (m *Maintenance) ReportStuck(ctx context.Context) (int, error) {
	if m.cfg.StuckAfter <= 0 {
		return 0, nil
	}
	stuck, err := m.jobs.ListStuck(ctx, repository.NoTX, m.now().Add(-m.cfg.StuckAfter), m.cfg.StuckLimit)
	if err != nil {
		return 0, err
	}
	metrics.SetStuckJobs(len(stuck))
	for _, j := range stuck {
		m.log.Warn().
			Str("job_id", j.ID).
			Str("campaign_id", j.Context.CampaignID).
			Int("wave_index", j.WaveIndex).
			Time("since", j.UpdatedAt).
			Msg("wave job stuck in processing")
	}
	return len(stuck), nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ log *zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
