// Package ratelimit tracks per-API-key throttling state for provider calls.
//
// Each key fingerprint has an escalating cooldown driven by 429 responses
// and an independent per-minute request quota that depends on the key's tier.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Tier selects the per-minute quota of a key.
type Tier string

const (
	// TierFree applies to the platform's shared key
	TierFree Tier = "free"
	// TierPaid applies to workspace-supplied keys
	TierPaid Tier = "paid"
)

// State is the cooldown state of a key.
type State int

const (
	StateNormal State = iota
	StateSoftCooldown
	StateMediumCooldown
	StateHardCooldown
)

func (s State) String() string {
	switch s {
	case StateSoftCooldown:
		return "soft_cooldown"
	case StateMediumCooldown:
		return "medium_cooldown"
	case StateHardCooldown:
		return "hard_cooldown"
	default:
		return "normal"
	}
}

// Config holds limiter configuration.
type Config struct {
	SoftCooldown   time.Duration // after the 1st consecutive 429
	MediumCooldown time.Duration // after the 2nd
	HardCooldown   time.Duration // after the 3rd and later

	// Requests per minute per key; zero or negative disables the quota
	FreeRequestsPerMinute int
	PaidRequestsPerMinute int

	Clock  Clock
	Logger *slog.Logger
}

// DefaultConfig returns the production cooldown ladder and tier quotas.
func DefaultConfig() Config {
	return Config{
		SoftCooldown:          5 * time.Second,
		MediumCooldown:        30 * time.Second,
		HardCooldown:          5 * time.Minute,
		FreeRequestsPerMinute: 100,
		PaidRequestsPerMinute: 1500,
	}
}

// Snapshot is a point-in-time view of one key's state.
type Snapshot struct {
	Tier              Tier
	State             State
	ConsecutiveErrors int
	CooldownUntil     time.Time
	WindowStart       time.Time
	WindowRequests    int
}

type keyState struct {
	tier              Tier
	state             State
	consecutiveErrors int
	cooldownUntil     time.Time
	quota             *rate.Limiter
	windowStart       time.Time
	windowRequests    int
}

// Limiter is safe for concurrent use. Construct one per process and inject it
// into every provider client that should share throttling state.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	clock  Clock
	logger *slog.Logger
	keys   map[string]*keyState
}

// New creates a limiter.
func New(cfg Config) *Limiter {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		keys:   make(map[string]*keyState),
	}
}

// Fingerprint identifies an API key without retaining it.
func Fingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:8])
}

// Wait blocks until the key is out of cooldown and its quota admits one more
// request, or until ctx is done.
func (l *Limiter) Wait(ctx context.Context, fingerprint string, tier Tier) error {
	for {
		l.mu.Lock()
		now := l.clock.Now()
		ks := l.stateFor(fingerprint, tier, now)

		if wait := ks.cooldownUntil.Sub(now); wait > 0 {
			state := ks.state
			l.mu.Unlock()

			l.logger.Debug("waiting for cooldown",
				"fingerprint", fingerprint,
				"state", state.String(),
				"wait", wait,
			)
			if err := l.clock.Sleep(ctx, wait); err != nil {
				return err
			}
			// Re-check: the cooldown may have been extended meanwhile
			continue
		}

		reservation := ks.quota.ReserveN(now, 1)
		delay := reservation.DelayFrom(now)
		ks.countRequest(now)
		l.mu.Unlock()

		if delay > 0 {
			l.logger.Debug("waiting for quota", "fingerprint", fingerprint, "tier", tier, "wait", delay)
			if err := l.clock.Sleep(ctx, delay); err != nil {
				reservation.CancelAt(l.clock.Now())
				return err
			}
		}
		return nil
	}
}

// RecordThrottle registers a 429 for the key, escalates its cooldown and
// returns the cooldown applied. A provider Retry-After longer than the
// escalated cooldown wins.
func (l *Limiter) RecordThrottle(fingerprint string, retryAfter time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	ks := l.stateFor(fingerprint, "", now)
	ks.consecutiveErrors++

	var cooldown time.Duration
	switch ks.consecutiveErrors {
	case 1:
		ks.state = StateSoftCooldown
		cooldown = l.cfg.SoftCooldown
	case 2:
		ks.state = StateMediumCooldown
		cooldown = l.cfg.MediumCooldown
	default:
		ks.state = StateHardCooldown
		cooldown = l.cfg.HardCooldown
	}
	cooldown = max(cooldown, retryAfter)
	ks.cooldownUntil = now.Add(cooldown)

	l.logger.Warn("provider throttled key",
		"fingerprint", fingerprint,
		"consecutive_errors", ks.consecutiveErrors,
		"state", ks.state.String(),
		"cooldown", cooldown,
	)
	return cooldown
}

// RecordSuccess resets the key to Normal.
func (l *Limiter) RecordSuccess(fingerprint string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ks, ok := l.keys[fingerprint]
	if !ok {
		return
	}
	ks.state = StateNormal
	ks.consecutiveErrors = 0
	ks.cooldownUntil = time.Time{}
}

// Snapshot returns the key's current state, or false if the key is unknown.
func (l *Limiter) Snapshot(fingerprint string) (Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ks, ok := l.keys[fingerprint]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		Tier:              ks.tier,
		State:             ks.state,
		ConsecutiveErrors: ks.consecutiveErrors,
		CooldownUntil:     ks.cooldownUntil,
		WindowStart:       ks.windowStart,
		WindowRequests:    ks.windowRequests,
	}, true
}

// stateFor returns the key's state, creating it lazily. An empty tier keeps
// the current tier (or free for a new key). Caller holds l.mu.
func (l *Limiter) stateFor(fingerprint string, tier Tier, now time.Time) *keyState {
	ks, ok := l.keys[fingerprint]
	if !ok {
		if tier == "" {
			tier = TierFree
		}
		limit, burst := l.quotaFor(tier)
		ks = &keyState{
			tier:        tier,
			quota:       rate.NewLimiter(limit, burst),
			windowStart: now,
		}
		l.keys[fingerprint] = ks
		return ks
	}

	if tier != "" && tier != ks.tier {
		limit, burst := l.quotaFor(tier)
		ks.quota.SetLimitAt(now, limit)
		ks.quota.SetBurstAt(now, burst)
		ks.tier = tier
	}
	return ks
}

func (l *Limiter) quotaFor(tier Tier) (rate.Limit, int) {
	rpm := l.cfg.FreeRequestsPerMinute
	if tier == TierPaid {
		rpm = l.cfg.PaidRequestsPerMinute
	}
	if rpm <= 0 {
		return rate.Inf, 1
	}
	return rate.Every(time.Minute / time.Duration(rpm)), rpm
}

func (ks *keyState) countRequest(now time.Time) {
	if now.Sub(ks.windowStart) >= time.Minute {
		ks.windowStart = now
		ks.windowRequests = 0
	}
	ks.windowRequests++
}
