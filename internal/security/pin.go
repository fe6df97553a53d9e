package security

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrPINLocked indicates verification is blocked by the rate limiter.
var ErrPINLocked = errors.New("pin entry locked")

// ErrPINMismatch indicates the supplied PIN did not match.
var ErrPINMismatch = errors.New("pin mismatch")

// HashPIN derives a bcrypt hash for a transaction PIN.
func HashPIN(pin string) (string, error) {
	if len(pin) < 4 {
		return "", errors.New("pin must be at least 4 digits")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(hash), nil
}

// PINVerifier checks PIN entries through the rate limiter so repeated
// failures lock the key out.
type PINVerifier struct {
	limiter *Limiter
}

// NewPINVerifier wraps the limiter for PIN checks.
func NewPINVerifier(limiter *Limiter) *PINVerifier {
	return &PINVerifier{limiter: limiter}
}

// Verify compares pin against hash under the limiter key. A failed match
// consumes an attempt; a successful match resets the key.
func (v *PINVerifier) Verify(key, hash, pin string) (Decision, error) {
	decision := v.limiter.Check(key)
	if !decision.Allowed {
		return decision, ErrPINLocked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		decision = v.limiter.RecordAttempt(key)
		if !decision.Allowed {
			return decision, ErrPINLocked
		}
		return decision, ErrPINMismatch
	}

	v.limiter.Reset(key)
	return Decision{Allowed: true, AttemptsLeft: v.limiter.cfg.MaxAttempts}, nil
}

// RemainingBlock returns how long the key stays locked, zero when open.
func (v *PINVerifier) RemainingBlock(key string) time.Duration {
	d := v.limiter.Check(key)
	if d.Allowed {
		return 0
	}
	return d.RetryAfter
}
