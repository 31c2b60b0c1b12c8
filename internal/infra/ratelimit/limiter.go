// Package ratelimit paces outbound Telegram sends with a global token bucket
// plus one bucket per chat, and lengthens waits after provider throttling.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"telegram-campaign-bot/internal/infra/metrics"
)

const (
	minWaitInterval   = 10 * time.Millisecond
	throttleWindow    = 60 * time.Second
	throttleThreshold = 5
	backoffFactor     = 1.2
	maxBackoff        = 2.0
)

type Config struct {
	GlobalRatePerSecond       int
	PerRecipientRatePerSecond int
	// BucketTTL is how long a chat bucket may sit untouched before CleanupInactiveBuckets drops it.
	BucketTTL time.Duration
	// MaxWait is the wait ceiling after which Acquire grants tokens regardless.
	MaxWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.GlobalRatePerSecond <= 0 {
		c.GlobalRatePerSecond = 20
	}
	if c.PerRecipientRatePerSecond <= 0 {
		c.PerRecipientRatePerSecond = 5
	}
	if c.BucketTTL <= 0 {
		c.BucketTTL = 5 * time.Minute
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 5 * time.Second
	}
	return c
}

// AcquireResult reports how an acquisition went.
type AcquireResult struct {
	WaitedMs                 int64
	GlobalTokensRemaining    float64
	RecipientTokensRemaining float64
	Forced                   bool
}

type Stats struct {
	TotalAcquisitions          int64   `json:"total_acquisitions"`
	TotalWaitEvents            int64   `json:"total_wait_events"`
	TotalThrottleSignals       int64   `json:"total_throttle_signals"`
	ForcedGrants               int64   `json:"forced_grants"`
	BackoffMultiplier          float64 `json:"backoff_multiplier"`
	RecentThrottleCount        int     `json:"recent_throttle_count"`
	GlobalTokensRemaining      float64 `json:"global_tokens_remaining"`
	ActiveRecipientBucketCount int     `json:"active_recipient_bucket_count"`
}

type bucket struct {
	tokens     float64
	capacity   float64
	rate       float64 // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

func newBucket(capacity, ratePerSecond float64, now time.Time) *bucket {
	return &bucket{tokens: capacity, capacity: capacity, rate: ratePerSecond, lastRefill: now, lastUsed: now}
}

// refill adds floor(elapsed * rate) whole tokens. The sub-token remainder of
// elapsed time is kept by advancing lastRefill only by the time consumed.
func (b *bucket) refill(now time.Time) {
	elapsedMs := now.Sub(b.lastRefill).Milliseconds()
	if elapsedMs <= 0 {
		return
	}
	add := math.Floor(float64(elapsedMs) / 1000 * b.rate)
	if add <= 0 {
		return
	}
	b.tokens += add
	if b.tokens >= b.capacity {
		b.tokens = b.capacity
		b.lastRefill = now
		return
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(add / b.rate * float64(time.Second)))
}

func (b *bucket) zero(now time.Time) {
	b.tokens = 0
	b.lastRefill = now
}

// refillInterval is the time one token takes, in milliseconds.
func (b *bucket) refillInterval() float64 {
	return 1000 / b.rate
}

type backoffState struct {
	multiplier     float64
	recentCount    int
	windowStartAt  time.Time
	lastThrottleAt time.Time
}

// Limiter is the process-wide send pacer. All state is owned by the Limiter and
// mutated only through its methods; a single mutex serializes them.
type Limiter struct {
	cfg Config
	log *zerolog.Logger

	mu         sync.Mutex
	global     *bucket
	recipients map[int64]*bucket
	backoff    backoffState

	totalAcquisitions    int64
	totalWaitEvents      int64
	totalThrottleSignals int64
	forcedGrants         int64

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	waitLogs rate.Sometimes
}

type Option func(*Limiter)

// WithClock replaces the time source and the sleeper; tests use it to drive time.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

func New(cfg Config, logger *zerolog.Logger, opts ...Option) *Limiter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	compLog := logger.With().Str("component", "RateLimiter").Logger()
	l := &Limiter{
		cfg:        cfg.withDefaults(),
		log:        &compLog,
		recipients: make(map[int64]*bucket),
		backoff:    backoffState{multiplier: 1.0},
		now:        time.Now,
		sleep:      sleepCtx,
		waitLogs:   rate.Sometimes{Interval: time.Second},
	}
	for _, o := range opts {
		o(l)
	}
	l.global = newBucket(float64(l.cfg.GlobalRatePerSecond), float64(l.cfg.GlobalRatePerSecond), l.now())
	metrics.SetBackoffMultiplier(1.0)
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Acquire blocks until both a global and a chat token are available and takes one
// of each. It never rejects: once MaxWait has elapsed tokens are granted anyway,
// trading rate accuracy for liveness. The only error is ctx cancellation.
func (l *Limiter) Acquire(ctx context.Context, chatID int64) (AcquireResult, error) {
	start := l.now()
	waited := false
	for {
		l.mu.Lock()
		now := l.now()
		rb := l.recipientBucket(chatID, now)
		l.global.refill(now)
		rb.refill(now)
		rb.lastUsed = now

		forced := now.Sub(start) >= l.cfg.MaxWait
		if (l.global.tokens >= 1 && rb.tokens >= 1) || forced {
			if forced && (l.global.tokens < 1 || rb.tokens < 1) {
				l.global.tokens = math.Max(l.global.tokens, 1)
				rb.tokens = math.Max(rb.tokens, 1)
				l.forcedGrants++
				metrics.IncForcedGrant()
				l.log.Warn().Int64("chat_id", chatID).Dur("waited", now.Sub(start)).Msg("wait ceiling reached; granting tokens")
			} else {
				forced = false
			}
			l.global.tokens--
			rb.tokens--
			l.totalAcquisitions++
			if waited {
				l.totalWaitEvents++
			}
			res := AcquireResult{
				WaitedMs:                 now.Sub(start).Milliseconds(),
				GlobalTokensRemaining:    l.global.tokens,
				RecipientTokensRemaining: rb.tokens,
				Forced:                   forced,
			}
			l.mu.Unlock()
			metrics.ObserveLimiterWait(res.WaitedMs)
			return res, nil
		}

		wait := l.waitInterval(rb)
		globalLeft, chatLeft := l.global.tokens, rb.tokens
		l.mu.Unlock()

		waited = true
		l.waitLogs.Do(func() {
			l.log.Debug().
				Int64("chat_id", chatID).
				Float64("global_tokens", globalLeft).
				Float64("chat_tokens", chatLeft).
				Dur("wait", wait).
				Msg("waiting for tokens")
		})
		if err := l.sleep(ctx, wait); err != nil {
			return AcquireResult{WaitedMs: l.now().Sub(start).Milliseconds()}, err
		}
	}
}

// waitInterval is max(10ms, min(globalInterval, chatInterval) * multiplier). Caller holds mu.
func (l *Limiter) waitInterval(rb *bucket) time.Duration {
	ms := math.Min(l.global.refillInterval(), rb.refillInterval()) * l.backoff.multiplier
	d := time.Duration(ms * float64(time.Millisecond))
	if d < minWaitInterval {
		return minWaitInterval
	}
	return d
}

// recipientBucket returns the chat's bucket, creating a full one lazily. Caller holds mu.
func (l *Limiter) recipientBucket(chatID int64, now time.Time) *bucket {
	b, ok := l.recipients[chatID]
	if !ok {
		r := float64(l.cfg.PerRecipientRatePerSecond)
		b = newBucket(r, r, now)
		l.recipients[chatID] = b
	}
	return b
}

// ReportThrottled records a provider throttling signal for chatID. Both the global
// and the chat bucket are emptied. More than five signals inside one 60s window
// raise the backoff multiplier by 20%, up to 2.0. The window resets, it does not slide.
func (l *Limiter) ReportThrottled(chatID int64, retryAfter time.Duration) {
	l.mu.Lock()
	now := l.now()
	l.global.zero(now)
	rb := l.recipientBucket(chatID, now)
	rb.zero(now)
	rb.lastUsed = now

	b := &l.backoff
	if b.windowStartAt.IsZero() || now.Sub(b.windowStartAt) >= throttleWindow {
		b.windowStartAt = now
		b.recentCount = 1
	} else {
		b.recentCount++
	}
	if b.recentCount > throttleThreshold {
		b.multiplier = math.Min(maxBackoff, b.multiplier*backoffFactor)
	}
	b.lastThrottleAt = now
	l.totalThrottleSignals++
	mult, recent := b.multiplier, b.recentCount
	l.mu.Unlock()

	metrics.IncThrottleSignal()
	metrics.SetBackoffMultiplier(mult)
	l.log.Warn().
		Int64("chat_id", chatID).
		Dur("retry_after", retryAfter).
		Int("recent_throttles", recent).
		Float64("backoff_multiplier", mult).
		Msg("provider throttled sends")
}

// ResetBackoff restores the multiplier to 1.0 and clears the throttle window.
func (l *Limiter) ResetBackoff() {
	l.mu.Lock()
	l.backoff.multiplier = 1.0
	l.backoff.recentCount = 0
	l.backoff.windowStartAt = time.Time{}
	l.mu.Unlock()
	metrics.SetBackoffMultiplier(1.0)
	l.log.Info().Msg("backoff reset")
}

// ResetBackoffIfQuiet resets the backoff when it is raised and no throttling signal
// arrived within quiet. It reports whether a reset happened.
func (l *Limiter) ResetBackoffIfQuiet(quiet time.Duration) bool {
	l.mu.Lock()
	raised := l.backoff.multiplier > 1.0
	quietEnough := l.now().Sub(l.backoff.lastThrottleAt) >= quiet
	l.mu.Unlock()
	if !raised || !quietEnough {
		return false
	}
	l.ResetBackoff()
	return true
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.global.refill(l.now())
	return Stats{
		TotalAcquisitions:          l.totalAcquisitions,
		TotalWaitEvents:            l.totalWaitEvents,
		TotalThrottleSignals:       l.totalThrottleSignals,
		ForcedGrants:               l.forcedGrants,
		BackoffMultiplier:          l.backoff.multiplier,
		RecentThrottleCount:        l.backoff.recentCount,
		GlobalTokensRemaining:      l.global.tokens,
		ActiveRecipientBucketCount: len(l.recipients),
	}
}

// CleanupInactiveBuckets drops chat buckets untouched for longer than BucketTTL
// and returns how many were removed.
func (l *Limiter) CleanupInactiveBuckets() int {
	l.mu.Lock()
	now := l.now()
	removed := 0
	for id, b := range l.recipients {
		if now.Sub(b.lastUsed) > l.cfg.BucketTTL {
			delete(l.recipients, id)
			removed++
		}
	}
	left := len(l.recipients)
	l.mu.Unlock()

	metrics.SetRecipientBuckets(left)
	if removed > 0 {
		l.log.Debug().Int("removed", removed).Int("active", left).Msg("inactive buckets cleaned up")
	}
	return removed
}
