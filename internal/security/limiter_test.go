package security

import (
	"testing"
	"time"

	"github.com/kixikila/backend/internal/security/localstore"
)

func fixedClock(start time.Time) (func() time.Time, func(d time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestLimiterBlocksAfterBudget(t *testing.T) {
	nowFn, _ := fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	l := NewLimiter(localstore.NewMemory(), LimiterConfig{
		MaxAttempts: 3,
		Window:      time.Minute,
	}).WithClock(nowFn)

	for i := 0; i < 2; i++ {
		d := l.RecordAttempt("otp_user1")
		if !d.Allowed {
			t.Fatalf("attempt %d unexpectedly blocked", i+1)
		}
	}

	// Third attempt exhausts the budget and stamps the block.
	d := l.RecordAttempt("otp_user1")
	if d.Allowed {
		t.Fatal("expected block after exhausting attempts")
	}
	if d.RetryAfter != 2*time.Minute {
		t.Errorf("retry-after mismatch: want 2m got %s", d.RetryAfter)
	}

	if l.Check("otp_user1").Allowed {
		t.Error("check should report blocked")
	}
	// Other keys are unaffected.
	if !l.Check("otp_user2").Allowed {
		t.Error("unrelated key blocked")
	}
}

func TestLimiterWarnsNearBudget(t *testing.T) {
	nowFn, _ := fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	l := NewLimiter(localstore.NewMemory(), LimiterConfig{
		MaxAttempts: 5,
		Window:      time.Minute,
	}).WithClock(nowFn)

	var warns []bool
	for i := 0; i < 4; i++ {
		warns = append(warns, l.RecordAttempt("k").Warn)
	}
	want := []bool{false, false, true, true}
	for i := range want {
		if warns[i] != want[i] {
			t.Errorf("attempt %d warn mismatch: want %v got %v", i+1, want[i], warns[i])
		}
	}
}

func TestLimiterWindowExpiryResetsBudget(t *testing.T) {
	nowFn, advance := fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	l := NewLimiter(localstore.NewMemory(), LimiterConfig{
		MaxAttempts: 2,
		Window:      time.Minute,
	}).WithClock(nowFn)

	l.RecordAttempt("k")
	advance(61 * time.Second)

	d := l.Check("k")
	if !d.Allowed || d.AttemptsLeft != 2 {
		t.Errorf("expected fresh budget after window expiry, got %+v", d)
	}
}

func TestLimiterBlockExpiresAndResets(t *testing.T) {
	nowFn, advance := fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	l := NewLimiter(localstore.NewMemory(), LimiterConfig{
		MaxAttempts:   2,
		Window:        time.Minute,
		BlockDuration: 5 * time.Minute,
	}).WithClock(nowFn)

	l.RecordAttempt("k")
	l.RecordAttempt("k")
	if l.Check("k").Allowed {
		t.Fatal("expected block")
	}

	advance(5*time.Minute + time.Second)
	d := l.Check("k")
	if !d.Allowed || d.AttemptsLeft != 2 {
		t.Errorf("expected reset after block expiry, got %+v", d)
	}
}

func TestLimiterResetClearsState(t *testing.T) {
	nowFn, _ := fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	l := NewLimiter(localstore.NewMemory(), LimiterConfig{
		MaxAttempts: 2,
		Window:      time.Minute,
	}).WithClock(nowFn)

	l.RecordAttempt("k")
	l.RecordAttempt("k")
	l.Reset("k")
	if d := l.Check("k"); !d.Allowed || d.AttemptsLeft != 2 {
		t.Errorf("expected clean state after reset, got %+v", d)
	}
}

func TestLimiterStateSurvivesRestart(t *testing.T) {
	kv := localstore.NewMemory()
	nowFn, _ := fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	first := NewLimiter(kv, LimiterConfig{MaxAttempts: 2, Window: time.Minute}).WithClock(nowFn)
	first.RecordAttempt("k")
	first.RecordAttempt("k")

	// A new limiter over the same KV sees the persisted block.
	second := NewLimiter(kv, LimiterConfig{MaxAttempts: 2, Window: time.Minute}).WithClock(nowFn)
	if second.Check("k").Allowed {
		t.Error("expected persisted block to survive limiter recreation")
	}
}
