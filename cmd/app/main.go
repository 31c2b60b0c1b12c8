package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"telegram-campaign-bot/internal/config"
	"telegram-campaign-bot/internal/domain/model"
	tele "telegram-campaign-bot/internal/infra/adapters/telegram"
	pg "telegram-campaign-bot/internal/infra/db/postgres"
	"telegram-campaign-bot/internal/infra/logging"
	"telegram-campaign-bot/internal/infra/metrics"
	"telegram-campaign-bot/internal/infra/ratelimit"
	red "telegram-campaign-bot/internal/infra/redis"
	"telegram-campaign-bot/internal/infra/sched"
	"telegram-campaign-bot/internal/infra/web"
	"telegram-campaign-bot/internal/infra/worker"
	"telegram-campaign-bot/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLog.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("campaign bot stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, cfg.Bot.OwnerID)

	// ---- Postgres ----
	if cfg.Database.Migrate {
		if err := pg.Migrate(cfg.Database.URL); err != nil {
			return err
		}
		logger.Info().Msg("migrations applied")
	}
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	tm := pg.NewTxManager(pool)
	recipients := pg.NewRecipientRepo(pool)
	payments := pg.NewPaymentRepo(pool)
	campaigns := pg.NewCampaignRepo(pool)
	jobs := pg.NewWaveJobRepo(pool)
	sends := pg.NewScheduledSendRepo(pool)
	downsellQueue := pg.NewDownsellQueueRepo(pool)
	shotEvents := pg.NewEventLogRepo(pool, model.CampaignKindShot)
	recorder := pg.NewDeliveryRecorder(tm, downsellQueue, pg.NewFunnelEventLog(pool))

	// ---- Redis leader lock ----
	var locker usecase.Locker
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		locker = red.NewLocker(redisClient)
	} else {
		logger.Warn().Msg("redis not configured; queue ticks are not coordinated across replicas")
	}

	// ---- Telegram ----
	bot, err := tele.NewBotAPI(&cfg.Bot)
	if err != nil {
		return err
	}
	sender := tele.NewSender(bot, logger)

	// ---- Campaign engine ----
	b := cfg.Broadcast
	limiter := ratelimit.New(ratelimit.Config{
		GlobalRatePerSecond:       b.GlobalMaxRatePerSecond,
		PerRecipientRatePerSecond: b.PerRecipientMaxRatePerSecond,
		BucketTTL:                 b.BucketTTL(),
		MaxWait:                   b.MaxWait(),
	}, logger)

	dedup := usecase.DedupRegistry{
		model.CampaignKindDownsell: downsellQueue,
		model.CampaignKindShot:     shotEvents,
	}
	selector := usecase.NewTargetSelector(recipients, payments, campaigns, dedup, logger)
	planner := usecase.NewWavePlanner(jobs, selector, tm, usecase.PlannerConfig{
		WaveSize:     b.WaveSize,
		WaveDuration: b.WaveDuration(),
	}, logger)
	executor := usecase.NewWaveExecutor(selector, campaigns, recipients, recorder, limiter, sender, tm, logger)
	dispatcher := usecase.NewCampaignDispatcher(campaigns, sends, selector, planner, tm, logger)
	scheduler := usecase.NewQueueScheduler(jobs, sends, executor, dispatcher, tm, locker, usecase.SchedulerConfig{
		WaveBatchLimit: b.WaveBatchLimit,
		SendBatchLimit: b.SendBatchLimit,
		LockKey:        cfg.Scheduler.LockKey,
		LockTTL:        cfg.Scheduler.LockTTL,
	}, logger)

	// ---- Background work ----
	dispatchPool := worker.NewPool(cfg.Scheduler.DispatchWorkers, logger)
	dispatchPool.Start(ctx)
	defer dispatchPool.Stop()

	maintenance := sched.NewMaintenance(limiter, jobs, sched.MaintenanceConfig{
		SweepInterval: b.BucketSweepInterval,
		Spec:          cfg.Scheduler.MaintenanceCron,
		QuietPeriod:   b.BackoffQuietPeriod,
		StuckAfter:    cfg.Scheduler.StuckAfter,
	}, logger)
	if err := maintenance.Start(ctx); err != nil {
		return err
	}
	defer maintenance.Stop()

	listener := tele.NewListener(bot, cfg.Bot.OwnerID, recipients, dispatcher, 8, logger)
	queueWorker := sched.NewQueueWorker(b.TickInterval(), scheduler, logger)
	auth := web.NewAuthManager(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)
	api := web.NewServer(cfg.Bot.OwnerID, limiter, campaigns, dispatcher, dispatchPool, auth, logger)

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	runLoop := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Str("loop", name).Msg("background loop failed")
				select {
				case errCh <- err:
				default:
				}
			}
		}()
	}
	runLoop("queue", queueWorker.Run)
	runLoop("telegram", listener.Run)
	runLoop("ops-api", func(ctx context.Context) error { return api.ListenAndServe(ctx, cfg.Admin.Port) })

	logger.Info().
		Str("owner_id", cfg.Bot.OwnerID).
		Int("global_rate", b.GlobalMaxRatePerSecond).
		Int("wave_size", b.WaveSize).
		Dur("tick", b.TickInterval()).
		Msg("campaign bot started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case runErr = <-errCh:
	}

	// loops watch ctx; give in-flight sends a bounded grace period
	cancel()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("background loops did not stop in time")
	}
	return runErr
}
