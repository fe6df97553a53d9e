package security

import (
	"errors"
	"testing"
	"time"

	"github.com/kixikila/backend/internal/security/localstore"
)

func TestPINVerifier(t *testing.T) {
	nowFn, _ := fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewLimiter(localstore.NewMemory(), LimiterConfig{
		MaxAttempts: 3,
		Window:      time.Minute,
	}).WithClock(nowFn)
	v := NewPINVerifier(limiter)

	hash, err := HashPIN("4821")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	// Wrong PIN consumes attempts.
	for i := 0; i < 2; i++ {
		if _, err := v.Verify("pin_u1", hash, "0000"); !errors.Is(err, ErrPINMismatch) {
			t.Fatalf("attempt %d: expected ErrPINMismatch, got %v", i+1, err)
		}
	}

	// Correct PIN resets the counter.
	if _, err := v.Verify("pin_u1", hash, "4821"); err != nil {
		t.Fatalf("correct pin rejected: %v", err)
	}
	if d := limiter.Check("pin_u1"); d.AttemptsLeft != 3 {
		t.Errorf("expected reset after success, attempts left %d", d.AttemptsLeft)
	}

	// Exhausting the budget locks even the correct PIN out.
	for i := 0; i < 3; i++ {
		v.Verify("pin_u1", hash, "0000")
	}
	if _, err := v.Verify("pin_u1", hash, "4821"); !errors.Is(err, ErrPINLocked) {
		t.Errorf("expected ErrPINLocked, got %v", err)
	}
	if v.RemainingBlock("pin_u1") <= 0 {
		t.Error("expected a positive remaining block duration")
	}
}

func TestHashPINRejectsShortPIN(t *testing.T) {
	if _, err := HashPIN("12"); err == nil {
		t.Error("expected error for short pin")
	}
}
