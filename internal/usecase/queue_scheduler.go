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
	"telegram-campaign-bot/internal/domain/ports/repository"
	"telegram-campaign-bot/internal/infra/logging"
	"telegram-campaign-bot/internal/infra/metrics"
)

// Compile-time check
var _ QueueScheduler = (*queueScheduler)(nil)

// Locker guards a tick so only one replica drains the queues at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	// Extend renews a held lease; domain.ErrLockNotAcquired means it was lost.
	Extend(ctx context.Context, key, token string, ttl time.Duration) error
	Unlock(ctx context.Context, key, token string) error
}

type QueueScheduler interface {
	// Tick runs one pass: due scheduled shots are dispatched, then due wave jobs
	// are drained, then due single sends. It never returns an error; per-job
	// failures end up on the job row.
	Tick(ctx context.Context) TickReport
}

type TickReport struct {
	LockSkipped         bool
	LockLost            bool
	CampaignsDispatched int
	WavesProcessed      int
	WaveErrors          int
	WavesRequeued       int
	SendsProcessed      int
	SendErrors          int
	Counts              model.WaveCounts
}

type SchedulerConfig struct {
	WaveBatchLimit int
	SendBatchLimit int
	LockKey        string
	LockTTL        time.Duration
}

type queueScheduler struct {
	jobs       repository.WaveJobRepository
	sends      repository.ScheduledSendRepository
	executor   WaveExecutor
	dispatcher CampaignDispatcher
	tm         repository.TransactionManager
	locker     Locker
	cfg        SchedulerConfig
	now        func() time.Time
	log        *zerolog.Logger
}

// NewQueueScheduler builds the tick logic. locker and dispatcher may be nil.
func NewQueueScheduler(
	jobs repository.WaveJobRepository,
	sends repository.ScheduledSendRepository,
	executor WaveExecutor,
	dispatcher CampaignDispatcher,
	tm repository.TransactionManager,
	locker Locker,
	cfg SchedulerConfig,
	logger *zerolog.Logger,
) *queueScheduler {
	if cfg.WaveBatchLimit <= 0 {
		cfg.WaveBatchLimit = 5
	}
	if cfg.SendBatchLimit <= 0 {
		cfg.SendBatchLimit = 10
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	compLog := logger.With().Str("component", "QueueScheduler").Logger()
	return &queueScheduler{
		jobs:       jobs,
		sends:      sends,
		executor:   executor,
		dispatcher: dispatcher,
		tm:         tm,
		locker:     locker,
		cfg:        cfg,
		now:        time.Now,
		log:        &compLog,
	}
}

// SetClock overrides the scheduler's time source.
func (s *queueScheduler) SetClock(now func() time.Time) { s.now = now }

func (s *queueScheduler) Tick(ctx context.Context) TickReport {
	var rep TickReport
	start := time.Now()
	defer func() { metrics.ObserveTick(time.Since(start).Seconds()) }()

	var lease *tickLease
	if s.locker != nil && s.cfg.LockKey != "" {
		token, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		if err != nil {
			if !errors.Is(err, domain.ErrLockNotAcquired) {
				s.log.Warn().Err(err).Msg("tick lock failed")
			}
			rep.LockSkipped = true
			return rep
		}
		lease = &tickLease{token: token}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx), s.cfg.LockKey, token); err != nil {
				s.log.Warn().Err(err).Msg("tick unlock failed")
			}
		}()
	}

	if s.dispatcher != nil {
		n, err := s.dispatcher.DispatchDue(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("dispatch of due campaigns failed")
		}
		rep.CampaignsDispatched = n
	}

	s.drainWaves(ctx, lease, &rep)
	if ctx.Err() == nil && !rep.LockLost {
		s.drainSends(ctx, lease, &rep)
	}

	if rep.WavesProcessed > 0 || rep.SendsProcessed > 0 || rep.CampaignsDispatched > 0 {
		s.log.Info().
			Int("campaigns", rep.CampaignsDispatched).
			Int("waves", rep.WavesProcessed).
			Int("wave_errors", rep.WaveErrors).
			Int("waves_requeued", rep.WavesRequeued).
			Int("sends", rep.SendsProcessed).
			Int("send_errors", rep.SendErrors).
			Int("sent", rep.Counts.Sent).
			Int("skipped", rep.Counts.Skipped).
			Int("failed", rep.Counts.Failed).
			Msg("tick finished")
	}
	return rep
}

// tickLease is the lock held for one tick; nil when the tick runs unlocked.
type tickLease struct {
	token string
}

// renew extends the lease before the next job starts, so a long tick never
// outlives its lock. It reports false when the lease is gone.
func (s *queueScheduler) renew(ctx context.Context, lease *tickLease, rep *TickReport) bool {
	if lease == nil {
		return true
	}
	err := s.locker.Extend(ctx, s.cfg.LockKey, lease.token, s.cfg.LockTTL)
	if err == nil {
		return true
	}
	if errors.Is(err, domain.ErrLockNotAcquired) {
		rep.LockLost = true
		s.log.Warn().Msg("tick lock lost; stopping")
		return false
	}
	// a failed renewal keeps the current lease; the ttl still covers one more job
	s.log.Warn().Err(err).Msg("tick lock renewal failed")
	return true
}

// claimNextWave moves the earliest due job to processing. Rows locked by
// another replica are skipped by the store. found is false when nothing is due;
// a job that was due but taken concurrently returns found with a nil job.
func (s *queueScheduler) claimNextWave(ctx context.Context) (job *model.WaveJob, found bool, err error) {
	err = s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		due, err := s.jobs.ListDueJobs(ctx, tx, s.now(), 1)
		if err != nil {
			return fmt.Errorf("list due jobs: %w", err)
		}
		if len(due) == 0 {
			return nil
		}
		found = true
		ok, err := s.jobs.ClaimJob(ctx, tx, due[0].ID)
		if err != nil {
			return fmt.Errorf("claim job %s: %w", due[0].ID, err)
		}
		if ok {
			due[0].Status = model.JobStatusProcessing
			job = due[0]
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return job, found, nil
}

// drainWaves claims and runs one job at a time up to the batch limit, so a
// job only enters processing right before it is attempted.
func (s *queueScheduler) drainWaves(ctx context.Context, lease *tickLease, rep *TickReport) {
	for i := 0; i < s.cfg.WaveBatchLimit; i++ {
		if ctx.Err() != nil || !s.renew(ctx, lease, rep) {
			return
		}
		job, found, err := s.claimNextWave(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("claim wave job failed")
			return
		}
		if !found {
			return
		}
		if job == nil {
			continue
		}

		counts, err := s.runWave(ctx, job)
		rep.WavesProcessed++
		rep.Counts.Add(counts)

		status, msg := model.JobStatusCompleted, ""
		switch {
		case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
			// interrupted by shutdown; recipients already reached are skipped on rerun
			status, msg = model.JobStatusPending, "interrupted: "+err.Error()
			rep.WavesRequeued++
			logging.With(logging.WithJobID(ctx, job.ID), s.log).Warn().
				Int("wave", job.WaveIndex).
				Int("sent", counts.Sent).
				Msg("wave interrupted; requeued")
		case err != nil:
			status, msg = model.JobStatusError, err.Error()
			rep.WaveErrors++
			logging.With(logging.WithJobID(ctx, job.ID), s.log).Error().Err(err).
				Str("campaign_id", job.Context.CampaignID).
				Int("wave", job.WaveIndex).
				Msg("wave job failed")
		}
		metrics.IncJob("wave", string(status))
		if uerr := s.jobs.UpdateJobStatus(context.WithoutCancel(ctx), repository.NoTX, job.ID, status, &counts, msg); uerr != nil {
			s.log.Error().Err(uerr).Str("job_id", job.ID).Msg("update job status failed")
		}
	}
}

// runWave isolates one job: a panic becomes that job's error.
func (s *queueScheduler) runWave(ctx context.Context, job *model.WaveJob) (counts model.WaveCounts, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrOperationFailed, r)
		}
	}()
	return s.executor.ProcessWave(ctx, job)
}

func (s *queueScheduler) drainSends(ctx context.Context, lease *tickLease, rep *TickReport) {
	due, err := s.sends.ListDue(ctx, repository.NoTX, s.now(), s.cfg.SendBatchLimit)
	if err != nil {
		s.log.Error().Err(err).Msg("list due sends failed")
		return
	}
	for _, send := range due {
		if ctx.Err() != nil || !s.renew(ctx, lease, rep) {
			return
		}
		ok, err := s.sends.Claim(ctx, repository.NoTX, send.ID)
		if err != nil {
			s.log.Error().Err(err).Str("send_id", send.ID).Msg("claim send failed")
			continue
		}
		if !ok {
			continue
		}
		counts, err := s.runSend(ctx, send)
		rep.SendsProcessed++
		rep.Counts.Add(counts)

		status, msg := model.JobStatusCompleted, ""
		switch {
		case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
			status, msg = model.JobStatusPending, "interrupted: "+err.Error()
		case err != nil:
			status, msg = model.JobStatusError, err.Error()
			rep.SendErrors++
			s.log.Error().Err(err).Str("send_id", send.ID).Int64("chat_id", send.ChatID).Msg("scheduled send failed")
		}
		metrics.IncJob("send", string(status))
		if uerr := s.sends.UpdateStatus(context.WithoutCancel(ctx), repository.NoTX, send.ID, status, msg); uerr != nil {
			s.log.Error().Err(uerr).Str("send_id", send.ID).Msg("update send status failed")
		}
	}
}

func (s *queueScheduler) runSend(ctx context.Context, send *model.ScheduledSend) (counts model.WaveCounts, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrOperationFailed, r)
		}
	}()
	return s.executor.ProcessSingle(ctx, send)
}
