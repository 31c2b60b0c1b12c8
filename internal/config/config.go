// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token   string `yaml:"token" env:"BOT_TOKEN"`
	OwnerID string `yaml:"owner_id" env:"BOT_OWNER_ID"` // campaign owner this process sends for
	Debug   bool   `yaml:"debug" env:"BOT_DEBUG"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"`       // trace|debug|info|warn|error
	Format   string `yaml:"format" env:"LOG_FORMAT"`     // json|console
	Sampling bool   `yaml:"sampling" env:"LOG_SAMPLING"` // enable sampling in prod
}

type AdminConfig struct {
	Port      int           `yaml:"port" env:"ADMIN_PORT"`
	JWTSecret string        `yaml:"jwt_secret" env:"ADMIN_JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"ADMIN_TOKEN_TTL"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url" env:"DATABASE_URL"`
	MaxConns int32  `yaml:"max_conns" env:"DATABASE_MAX_CONNS"`
	Migrate  bool   `yaml:"migrate" env:"DATABASE_MIGRATE"`
}

type RedisConfig struct {
	URL      string        `yaml:"url" env:"REDIS_URL"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL"`
}

// BroadcastConfig carries the rate and wave tuning of the campaign engine.
// Millisecond fields keep the names operators already use in env files.
type BroadcastConfig struct {
	GlobalMaxRatePerSecond       int           `yaml:"global_max_rate_per_second" env:"BROADCAST_GLOBAL_MAX_RATE"`
	PerRecipientMaxRatePerSecond int           `yaml:"per_recipient_max_rate_per_second" env:"BROADCAST_PER_RECIPIENT_MAX_RATE"`
	WaveSize                     int           `yaml:"wave_size" env:"BROADCAST_WAVE_SIZE"`
	WaveDurationMs               int           `yaml:"wave_duration_ms" env:"BROADCAST_WAVE_DURATION_MS"`
	SchedulerTickIntervalMs      int           `yaml:"scheduler_tick_interval_ms" env:"BROADCAST_TICK_INTERVAL_MS"`
	BucketInactivityTTLMs        int           `yaml:"bucket_inactivity_ttl_ms" env:"BROADCAST_BUCKET_TTL_MS"`
	BucketSweepInterval          time.Duration `yaml:"bucket_sweep_interval" env:"BROADCAST_BUCKET_SWEEP_INTERVAL"`
	MaxWaitMs                    int           `yaml:"max_wait_ms" env:"BROADCAST_MAX_WAIT_MS"`
	WaveBatchLimit               int           `yaml:"wave_batch_limit" env:"BROADCAST_WAVE_BATCH_LIMIT"`
	SendBatchLimit               int           `yaml:"send_batch_limit" env:"BROADCAST_SEND_BATCH_LIMIT"`
	BackoffQuietPeriod           time.Duration `yaml:"backoff_quiet_period" env:"BROADCAST_BACKOFF_QUIET_PERIOD"`
}

func (b BroadcastConfig) WaveDuration() time.Duration {
	return time.Duration(b.WaveDurationMs) * time.Millisecond
}

func (b BroadcastConfig) TickInterval() time.Duration {
	return time.Duration(b.SchedulerTickIntervalMs) * time.Millisecond
}

func (b BroadcastConfig) BucketTTL() time.Duration {
	return time.Duration(b.BucketInactivityTTLMs) * time.Millisecond
}

func (b BroadcastConfig) MaxWait() time.Duration {
	return time.Duration(b.MaxWaitMs) * time.Millisecond
}

type SchedulerConfig struct {
	LockKey         string        `yaml:"lock_key" env:"SCHEDULER_LOCK_KEY"`
	LockTTL         time.Duration `yaml:"lock_ttl" env:"SCHEDULER_LOCK_TTL"`
	MaintenanceCron string        `yaml:"maintenance_cron" env:"SCHEDULER_MAINTENANCE_CRON"`
	StuckAfter      time.Duration `yaml:"stuck_after" env:"SCHEDULER_STUCK_AFTER"`
	DispatchWorkers int           `yaml:"dispatch_workers" env:"SCHEDULER_DISPATCH_WORKERS"` // async dispatches from the ops API
}

type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path (a missing file is allowed), then
// applies environment overrides and defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}

	cfg.ApplyDefaults()
	cfg.Runtime.Dev = dev
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every zero value with its documented default.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 8080
	}
	if c.Admin.TokenTTL <= 0 {
		c.Admin.TokenTTL = 30 * time.Minute
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)

	b := &c.Broadcast
	if b.GlobalMaxRatePerSecond <= 0 {
		b.GlobalMaxRatePerSecond = 20
	}
	if b.PerRecipientMaxRatePerSecond <= 0 {
		b.PerRecipientMaxRatePerSecond = 5
	}
	// one wave is one second of global budget
	if b.WaveSize <= 0 {
		b.WaveSize = b.GlobalMaxRatePerSecond
	}
	if b.WaveDurationMs <= 0 {
		b.WaveDurationMs = 1000
	}
	if b.SchedulerTickIntervalMs <= 0 {
		b.SchedulerTickIntervalMs = 5000
	}
	if b.BucketInactivityTTLMs <= 0 {
		b.BucketInactivityTTLMs = 300000
	}
	if b.BucketSweepInterval <= 0 {
		b.BucketSweepInterval = time.Minute
	}
	if b.MaxWaitMs <= 0 {
		b.MaxWaitMs = 5000
	}
	if b.WaveBatchLimit <= 0 {
		b.WaveBatchLimit = 5
	}
	if b.SendBatchLimit <= 0 {
		b.SendBatchLimit = 10
	}
	if b.BackoffQuietPeriod <= 0 {
		b.BackoffQuietPeriod = 10 * time.Minute
	}

	if c.Scheduler.LockKey == "" {
		c.Scheduler.LockKey = "campaigns:queue:tick"
	}
	if c.Scheduler.LockTTL <= 0 {
		c.Scheduler.LockTTL = 2 * time.Minute
	}
	// the tick renews its lease before each job, so one lease must outlast the
	// slowest wave: every recipient hitting the wait ceiling
	if floor := time.Duration(b.WaveSize)*b.MaxWait() + 30*time.Second; c.Scheduler.LockTTL < floor {
		c.Scheduler.LockTTL = floor
	}
	if c.Scheduler.MaintenanceCron == "" {
		c.Scheduler.MaintenanceCron = "@every 1m"
	}
	if c.Scheduler.StuckAfter <= 0 {
		c.Scheduler.StuckAfter = 15 * time.Minute
	}
	if c.Scheduler.DispatchWorkers <= 0 {
		c.Scheduler.DispatchWorkers = 4
	}
}

// Validate performs minimal validation.
func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return errors.New("bot.token is required")
	}
	if c.Bot.OwnerID == "" {
		return errors.New("bot.owner_id is required")
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Broadcast.WaveSize <= 0 || c.Broadcast.GlobalMaxRatePerSecond <= 0 || c.Broadcast.PerRecipientMaxRatePerSecond <= 0 {
		return errors.New("broadcast rates and wave_size must be positive")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
