// Package ratelimit enforces per-owner usage limits against the shared
// coordination store, so counts hold across every service instance.
package ratelimit

import (
	"context"
	"time"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/logging"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retryAfter"`
}

// Counter is a shared fixed-window counter. Incr atomically increments the
// counter for key, starting the window on first touch, and returns the new
// count plus the time until the window resets.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, reset time.Duration, err error)
}

// Limiter checks independent minute and hour windows per owner.
// Bypass-listed owners are always allowed. Counter errors fail open:
// availability is preferred over strict fairness.
type Limiter struct {
	counter   Counter
	perMinute int
	perHour   int
	bypass    map[string]struct{}
	log       *logging.Logger
}

// New creates a limiter from config.
func New(counter Counter, cfg config.LimitsConfig, log *logging.Logger) *Limiter {
	bypass := make(map[string]struct{}, len(cfg.Bypass))
	for _, id := range cfg.Bypass {
		bypass[id] = struct{}{}
	}
	return &Limiter{
		counter:   counter,
		perMinute: cfg.PerMinute,
		perHour:   cfg.PerHour,
		bypass:    bypass,
		log:       log.Sub("ratelimit"),
	}
}

// Check records one request for ownerID and reports whether it is allowed.
// On denial, RetryAfter holds the time until the violated window resets.
func (l *Limiter) Check(ctx context.Context, ownerID string) Result {
	if _, ok := l.bypass[ownerID]; ok {
		return Result{Allowed: true, Remaining: l.perMinute}
	}

	minuteCount, minuteReset, err := l.counter.Incr(ctx, "rate:minute:"+ownerID, time.Minute)
	if err != nil {
		l.log.Warn().Err(err).Str("owner", ownerID).Msg("counter unavailable, allowing request")
		return Result{Allowed: true, Remaining: l.perMinute}
	}
	hourCount, hourReset, err := l.counter.Incr(ctx, "rate:hour:"+ownerID, time.Hour)
	if err != nil {
		l.log.Warn().Err(err).Str("owner", ownerID).Msg("counter unavailable, allowing request")
		return Result{Allowed: true, Remaining: l.perMinute}
	}

	if minuteCount > int64(l.perMinute) {
		l.logViolation(ownerID, "minute", minuteCount)
		return Result{Allowed: false, RetryAfter: minuteReset}
	}
	if hourCount > int64(l.perHour) {
		l.logViolation(ownerID, "hour", hourCount)
		return Result{Allowed: false, RetryAfter: hourReset}
	}

	remaining := l.perMinute - int(minuteCount)
	if hr := l.perHour - int(hourCount); hr < remaining {
		remaining = hr
	}
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining}
}

func (l *Limiter) logViolation(ownerID, window string, count int64) {
	l.log.Warn().
		Str("owner", ownerID).
		Str("window", window).
		Int64("count", count).
		Time("at", time.Now()).
		Msg("rate limit exceeded")
}
