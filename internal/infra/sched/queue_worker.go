package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-campaign-bot/internal/usecase"
)

// QueueWorker drives QueueScheduler.Tick on a fixed interval. Ticks never
// overlap: the next one starts only after the previous returned.
type QueueWorker struct {
	interval  time.Duration
	scheduler usecase.QueueScheduler
	log       *zerolog.Logger
}

func NewQueueWorker(interval time.Duration, scheduler usecase.QueueScheduler, logger *zerolog.Logger) *QueueWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	compLog := logger.With().Str("component", "QueueWorker").Logger()
	return &QueueWorker{
		interval:  interval,
		scheduler: scheduler,
		log:       &compLog,
	}
}

func (w *QueueWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting queue worker")
	// Run once on startup, then on every tick
	w.runTick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping queue worker")
			return ctx.Err()
		case <-ticker.C:
			w.runTick(ctx)
		}
	}
}

func (w *QueueWorker) runTick(ctx context.Context) {
	rep := w.scheduler.Tick(ctx)
	if rep.LockSkipped {
		w.log.Debug().Msg("tick skipped, another replica holds the lock")
		return
	}
	if rep.CampaignsDispatched+rep.WavesProcessed+rep.SendsProcessed == 0 {
		return
	}
	ev := w.log.Info()
	if rep.WaveErrors > 0 || rep.SendErrors > 0 || rep.LockLost {
		ev = w.log.Warn()
	}
	ev.Int("campaigns", rep.CampaignsDispatched).
		Int("waves", rep.WavesProcessed).
		Int("wave_errors", rep.WaveErrors).
		Int("waves_requeued", rep.WavesRequeued).
		Bool("lock_lost", rep.LockLost).
		Int("sends", rep.SendsProcessed).
		Int("send_errors", rep.SendErrors).
		Int("sent", rep.Counts.Sent).
		Int("skipped", rep.Counts.Skipped).
		Int("failed", rep.Counts.Failed).
		Msg("queue tick")
}
