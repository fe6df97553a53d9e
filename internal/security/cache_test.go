package security

import (
	"testing"
	"time"

	"github.com/kixikila/backend/internal/security/localstore"
)

func newTestCache(t *testing.T, kv localstore.KV, limiter *Limiter) *Cache {
	t.Helper()
	c, err := NewCache(kv, limiter)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c
}

func generousLimiter(nowFn func() time.Time) *Limiter {
	return NewLimiter(localstore.NewMemory(), LimiterConfig{
		MaxAttempts: 1000,
		Window:      time.Hour,
	}).WithClock(nowFn)
}

func TestCacheRoundTrip(t *testing.T) {
	nowFn, _ := fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	kv := localstore.NewMemory()
	c := newTestCache(t, kv, generousLimiter(nowFn)).WithClock(nowFn)

	type session struct {
		Token  string `json:"token"`
		UserID string `json:"userId"`
	}
	in := session{Token: "tok_abc", UserID: "u1"}

	if !c.Set("session", in) {
		t.Fatal("set failed")
	}

	var out session
	if !c.Get("session", &out) {
		t.Fatal("get failed")
	}
	if out != in {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}

	// Values at rest are ciphertext, not the JSON plaintext.
	raw, err := kv.Get("secure_session")
	if err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if string(raw) == `{"token":"tok_abc","userId":"u1"}` {
		t.Error("value stored in plaintext")
	}
}

func TestCacheExpiredEntryIsPurged(t *testing.T) {
	nowFn, advance := fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	kv := localstore.NewMemory()
	c := newTestCache(t, kv, generousLimiter(nowFn)).WithClock(nowFn)

	if !c.Set("session", "value") {
		t.Fatal("set failed")
	}

	advance(CacheTTL + time.Minute)

	var out string
	if c.Get("session", &out) {
		t.Fatal("expected expired entry to be rejected")
	}
	// The purge removes both the value and its timestamp.
	if _, err := kv.Get("secure_session"); err == nil {
		t.Error("expired value not purged")
	}
	if _, err := kv.Get("secure_session_timestamp"); err == nil {
		t.Error("expired timestamp not purged")
	}
}

func TestCacheTamperCountsExtraAttempt(t *testing.T) {
	nowFn, _ := fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewLimiter(localstore.NewMemory(), LimiterConfig{
		MaxAttempts: 10,
		Window:      time.Hour,
	}).WithClock(nowFn)
	kv := localstore.NewMemory()
	c := newTestCache(t, kv, limiter).WithClock(nowFn)

	if !c.Set("session", "value") {
		t.Fatal("set failed")
	}
	before := limiter.Check(storageAccessKey).AttemptsLeft

	// Corrupt the ciphertext in place.
	raw, err := kv.Get("secure_session")
	if err != nil {
		t.Fatalf("raw read: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	if err := kv.Set("secure_session", raw); err != nil {
		t.Fatalf("raw write: %v", err)
	}

	var out string
	if c.Get("session", &out) {
		t.Fatal("expected tampered entry to be rejected")
	}

	after := limiter.Check(storageAccessKey).AttemptsLeft
	// One attempt for the operation itself plus one penalty for the
	// failed decryption.
	if before-after != 2 {
		t.Errorf("expected 2 attempts consumed, got %d", before-after)
	}
}

func TestCacheOperationsAreRateLimited(t *testing.T) {
	nowFn, _ := fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewLimiter(localstore.NewMemory(), LimiterConfig{
		MaxAttempts: 10,
		Window:      time.Minute,
	}).WithClock(nowFn)
	c := newTestCache(t, localstore.NewMemory(), limiter).WithClock(nowFn)

	for i := 0; i < 10; i++ {
		if !c.Set("k", i) {
			t.Fatalf("operation %d unexpectedly limited", i+1)
		}
	}
	if c.Set("k", "over") {
		t.Error("expected 11th operation to be rate limited")
	}
	var out int
	if c.Get("k", &out) {
		t.Error("reads share the same budget and should be limited too")
	}
}

func TestCacheDeviceKeyPersists(t *testing.T) {
	nowFn, _ := fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	kv := localstore.NewMemory()

	first := newTestCache(t, kv, generousLimiter(nowFn)).WithClock(nowFn)
	if !first.Set("session", "value") {
		t.Fatal("set failed")
	}

	// A second cache over the same KV reuses the stored device key and can
	// decrypt existing entries.
	second := newTestCache(t, kv, generousLimiter(nowFn)).WithClock(nowFn)
	var out string
	if !second.Get("session", &out) || out != "value" {
		t.Errorf("expected reopened cache to decrypt, got %q", out)
	}
}

func TestCacheClearRemovesOnlySecureEntries(t *testing.T) {
	nowFn, _ := fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	kv := localstore.NewMemory()
	c := newTestCache(t, kv, generousLimiter(nowFn)).WithClock(nowFn)

	c.Set("a", 1)
	c.Set("b", 2)
	if !c.Clear() {
		t.Fatal("clear failed")
	}

	var out int
	if c.Get("a", &out) || c.Get("b", &out) {
		t.Error("entries survived clear")
	}
	if _, err := kv.Get(deviceKeyName); err != nil {
		t.Error("device key must survive clear")
	}
}
