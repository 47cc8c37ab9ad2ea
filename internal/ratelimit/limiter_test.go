package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances instantly when asked to sleep.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.slept = append(f.slept, d)
	return nil
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeClock) Slept() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.slept...)
}

func newTestLimiter(clock Clock) *Limiter {
	cfg := DefaultConfig()
	cfg.Clock = clock
	return New(cfg)
}

func TestRecordThrottle_EscalatesCooldown(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	tests := []struct {
		cooldown time.Duration
		state    State
	}{
		{5 * time.Second, StateSoftCooldown},
		{30 * time.Second, StateMediumCooldown},
		{5 * time.Minute, StateHardCooldown},
		{5 * time.Minute, StateHardCooldown},
	}

	for i, tt := range tests {
		got := l.RecordThrottle("fp", 0)
		assert.Equal(t, tt.cooldown, got, "throttle #%d", i+1)

		snap, ok := l.Snapshot("fp")
		require.True(t, ok)
		assert.Equal(t, tt.state, snap.State)
		assert.Equal(t, i+1, snap.ConsecutiveErrors)
		assert.Equal(t, tt.cooldown, snap.CooldownUntil.Sub(clock.Now()))
	}
}

func TestRecordThrottle_RetryAfterWins(t *testing.T) {
	l := newTestLimiter(newFakeClock())

	assert.Equal(t, 20*time.Second, l.RecordThrottle("fp", 20*time.Second))
	assert.Equal(t, 30*time.Second, l.RecordThrottle("fp", 10*time.Second))
}

func TestRecordSuccess_ResetsToNormal(t *testing.T) {
	l := newTestLimiter(newFakeClock())
	l.RecordThrottle("fp", 0)
	l.RecordThrottle("fp", 0)

	l.RecordSuccess("fp")

	snap, ok := l.Snapshot("fp")
	require.True(t, ok)
	assert.Equal(t, StateNormal, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveErrors)
	assert.True(t, snap.CooldownUntil.IsZero())

	// The ladder starts over after a success
	assert.Equal(t, 5*time.Second, l.RecordThrottle("fp", 0))
}

func TestRecordSuccess_UnknownKey(t *testing.T) {
	l := newTestLimiter(newFakeClock())
	l.RecordSuccess("missing")

	_, ok := l.Snapshot("missing")
	assert.False(t, ok)
}

func TestWait_HonorsCooldown(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	l.RecordThrottle("fp", 0)

	require.NoError(t, l.Wait(context.Background(), "fp", TierFree))

	assert.Equal(t, []time.Duration{5 * time.Second}, clock.Slept())
}

func TestWait_ElapsedCooldownDoesNotSleep(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	l.RecordThrottle("fp", 0)
	clock.Advance(6 * time.Second)

	require.NoError(t, l.Wait(context.Background(), "fp", TierFree))

	assert.Empty(t, clock.Slept())
}

func TestWait_KeysAreIsolated(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	l.RecordThrottle("key-a", 0)

	require.NoError(t, l.Wait(context.Background(), "key-b", TierFree))

	assert.Empty(t, clock.Slept())
}

func TestWait_FreeTierQuota(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Clock = clock
	cfg.FreeRequestsPerMinute = 2
	l := New(cfg)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "fp", TierFree))
	require.NoError(t, l.Wait(ctx, "fp", TierFree))
	assert.Empty(t, clock.Slept())

	require.NoError(t, l.Wait(ctx, "fp", TierFree))
	slept := clock.Slept()
	require.Len(t, slept, 1)
	assert.InDelta(t, float64(30*time.Second), float64(slept[0]), float64(time.Millisecond))
}

func TestWait_PaidTierHasHigherCeiling(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Clock = clock
	cfg.FreeRequestsPerMinute = 2
	cfg.PaidRequestsPerMinute = 100
	l := New(cfg)

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Wait(context.Background(), "byok", TierPaid))
	}

	assert.Empty(t, clock.Slept())
	snap, ok := l.Snapshot("byok")
	require.True(t, ok)
	assert.Equal(t, TierPaid, snap.Tier)
	assert.Equal(t, 10, snap.WindowRequests)
}

func TestWait_DisabledQuota(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Clock = clock
	cfg.FreeRequestsPerMinute = 0
	l := New(cfg)

	for i := 0; i < 500; i++ {
		require.NoError(t, l.Wait(context.Background(), "fp", TierFree))
	}
	assert.Empty(t, clock.Slept())
}

func TestWait_WindowCounterResets(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "fp", TierFree))
	require.NoError(t, l.Wait(ctx, "fp", TierFree))
	clock.Advance(time.Minute)
	require.NoError(t, l.Wait(ctx, "fp", TierFree))

	snap, _ := l.Snapshot("fp")
	assert.Equal(t, 1, snap.WindowRequests)
}

func TestWait_CancelledContext(t *testing.T) {
	l := newTestLimiter(newFakeClock())
	l.RecordThrottle("fp", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Wait(ctx, "fp", TierFree)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSystemClock_SleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := SystemClock{}.Sleep(ctx, time.Hour)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLimiter_ConcurrentUse(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Clock = clock
	cfg.FreeRequestsPerMinute = 0
	l := New(cfg)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RecordThrottle("shared", 0)
			_ = l.Wait(context.Background(), "shared", TierFree)
		}()
	}
	wg.Wait()

	snap, ok := l.Snapshot("shared")
	require.True(t, ok)
	assert.Equal(t, 20, snap.ConsecutiveErrors)
	assert.Equal(t, StateHardCooldown, snap.State)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("sk-one")
	assert.Len(t, a, 16)
	assert.Equal(t, a, Fingerprint("sk-one"))
	assert.NotEqual(t, a, Fingerprint("sk-two"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "normal", StateNormal.String())
	assert.Equal(t, "soft_cooldown", StateSoftCooldown.String())
	assert.Equal(t, "medium_cooldown", StateMediumCooldown.String())
	assert.Equal(t, "hard_cooldown", StateHardCooldown.String())
}
