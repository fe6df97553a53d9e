// Package security implements the device-local defenses: a sliding-window
// rate limiter with lockout, an encrypted key/value cache gated by it, and
// PIN hashing helpers.
package security

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/kixikila/backend/internal/security/localstore"
)

const limitStatePrefix = "securityLimit_"

// LimiterConfig tunes a rate-limited key class.
type LimiterConfig struct {
	MaxAttempts   int
	Window        time.Duration
	BlockDuration time.Duration // defaults to 2*Window
}

// Decision is the outcome of a limiter consultation.
type Decision struct {
	Allowed      bool
	AttemptsLeft int
	RetryAfter   time.Duration // remaining block time when not allowed
	Warn         bool          // two or fewer attempts remaining
}

// limitState is the persisted per-key counter.
type limitState struct {
	Attempts     int       `json:"attempts"`
	WindowStart  time.Time `json:"window_start"`
	BlockedUntil time.Time `json:"blocked_until"`
}

// Limiter throttles sensitive operations with a fixed window starting at
// the first attempt and a lockout once the window's budget is exhausted.
// State lives in the injected KV so it survives restarts when backed by
// the sqlite store.
type Limiter struct {
	mu    sync.Mutex
	kv    localstore.KV
	cfg   LimiterConfig
	nowFn func() time.Time
}

// NewLimiter builds a Limiter over the provided KV.
func NewLimiter(kv localstore.KV, cfg LimiterConfig) *Limiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 2 * cfg.Window
	}
	return &Limiter{kv: kv, cfg: cfg, nowFn: time.Now}
}

// WithClock overrides the time source, used in tests.
func (l *Limiter) WithClock(nowFn func() time.Time) *Limiter {
	if nowFn != nil {
		l.nowFn = nowFn
	}
	return l
}

// Check reports whether an operation on key may proceed. Expired windows
// and expired blocks are reset atomically as part of the read.
func (l *Limiter) Check(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.load(key)
	now := l.nowFn()

	if ok && !state.BlockedUntil.IsZero() {
		if now.Before(state.BlockedUntil) {
			return Decision{Allowed: false, RetryAfter: state.BlockedUntil.Sub(now)}
		}
		l.reset(key)
		return Decision{Allowed: true, AttemptsLeft: l.cfg.MaxAttempts}
	}

	if !ok || now.Sub(state.WindowStart) >= l.cfg.Window {
		if ok {
			l.reset(key)
		}
		return Decision{Allowed: true, AttemptsLeft: l.cfg.MaxAttempts}
	}

	left := l.cfg.MaxAttempts - state.Attempts
	if left <= 0 {
		// Budget exhausted but block not yet stamped; treat as blocked
		// from the window start.
		until := state.WindowStart.Add(l.cfg.BlockDuration)
		return Decision{Allowed: false, RetryAfter: until.Sub(now)}
	}
	return Decision{Allowed: true, AttemptsLeft: left, Warn: left <= 2}
}

// RecordAttempt counts one attempt against key and returns the resulting
// decision. Crossing the budget stamps the lockout.
func (l *Limiter) RecordAttempt(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	state, ok := l.load(key)

	if ok && !state.BlockedUntil.IsZero() {
		if now.Before(state.BlockedUntil) {
			return Decision{Allowed: false, RetryAfter: state.BlockedUntil.Sub(now)}
		}
		state = limitState{}
		ok = false
	}

	if !ok || now.Sub(state.WindowStart) >= l.cfg.Window {
		state = limitState{WindowStart: now}
	}

	state.Attempts++
	if state.Attempts >= l.cfg.MaxAttempts {
		state.BlockedUntil = now.Add(l.cfg.BlockDuration)
		l.save(key, state)
		return Decision{Allowed: false, RetryAfter: l.cfg.BlockDuration}
	}

	l.save(key, state)
	left := l.cfg.MaxAttempts - state.Attempts
	return Decision{Allowed: true, AttemptsLeft: left, Warn: left <= 2}
}

// Reset clears all limiter state for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reset(key)
}

func (l *Limiter) load(key string) (limitState, bool) {
	raw, err := l.kv.Get(limitStatePrefix + key)
	if err != nil {
		return limitState{}, false
	}
	var state limitState
	if err := json.Unmarshal(raw, &state); err != nil {
		// Corrupt state is discarded rather than trusted.
		l.reset(key)
		return limitState{}, false
	}
	return state, true
}

func (l *Limiter) save(key string, state limitState) {
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	_ = l.kv.Set(limitStatePrefix+key, raw)
}

func (l *Limiter) reset(key string) {
	if err := l.kv.Delete(limitStatePrefix + key); err != nil && !errors.Is(err, localstore.ErrNotFound) {
		return
	}
}
