package security

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/kixikila/backend/internal/security/localstore"
)

const (
	deviceKeyName   = "kixikila_device_key"
	secureKeyPrefix = "secure_"
	timestampSuffix = "_timestamp"

	// storageAccessKey throttles all secure cache operations.
	storageAccessKey = "storage_access"

	// CacheTTL is the age past which stored entries are treated as expired
	// and purged on read.
	CacheTTL = 7 * 24 * time.Hour
)

// Cache is the device-local encrypted store for small session artifacts.
// Every operation first consults the limiter; rejections fail silently
// (nil/false) because this is defense in depth, not a correctness control.
type Cache struct {
	kv        localstore.KV
	limiter   *Limiter
	aead      cipher.AEAD
	nonceSize int
	nowFn     func() time.Time
}

// NewCache opens the cache, generating and persisting the per-device
// encryption key on first use.
func NewCache(kv localstore.KV, limiter *Limiter) (*Cache, error) {
	key, err := kv.Get(deviceKeyName)
	if errors.Is(err, localstore.ErrNotFound) {
		key = make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		if err := kv.Set(deviceKeyName, key); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &Cache{
		kv:        kv,
		limiter:   limiter,
		aead:      aead,
		nonceSize: aead.NonceSize(),
		nowFn:     time.Now,
	}, nil
}

// WithClock overrides the time source, used in tests.
func (c *Cache) WithClock(nowFn func() time.Time) *Cache {
	if nowFn != nil {
		c.nowFn = nowFn
	}
	return c
}

// Set serializes, encrypts and stores value under key. Returns false when
// rate limited or on any storage failure.
func (c *Cache) Set(key string, value any) bool {
	if !c.allow() {
		return false
	}

	plaintext, err := json.Marshal(value)
	if err != nil {
		return false
	}

	nonce := make([]byte, c.nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return false
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)

	if err := c.kv.Set(secureKeyPrefix+key, sealed); err != nil {
		return false
	}
	ts := strconv.FormatInt(c.nowFn().Unix(), 10)
	if err := c.kv.Set(secureKeyPrefix+key+timestampSuffix, []byte(ts)); err != nil {
		return false
	}
	return true
}

// Get decrypts the value stored under key into dst. Returns false when
// rate limited, missing, expired (purging the entry), or on tamper: a
// decryption failure additionally counts as a limiter attempt to slow
// down probing.
func (c *Cache) Get(key string, dst any) bool {
	if !c.allow() {
		return false
	}

	rawTS, err := c.kv.Get(secureKeyPrefix + key + timestampSuffix)
	if err == nil {
		stored, parseErr := strconv.ParseInt(strings.TrimSpace(string(rawTS)), 10, 64)
		if parseErr == nil && c.nowFn().Sub(time.Unix(stored, 0)) > CacheTTL {
			c.purge(key)
			return false
		}
	}

	sealed, err := c.kv.Get(secureKeyPrefix + key)
	if err != nil {
		return false
	}
	if len(sealed) < c.nonceSize {
		c.limiter.RecordAttempt(storageAccessKey)
		return false
	}

	nonce, ciphertext := sealed[:c.nonceSize], sealed[c.nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		c.limiter.RecordAttempt(storageAccessKey)
		return false
	}

	return json.Unmarshal(plaintext, dst) == nil
}

// Remove deletes the entry for key.
func (c *Cache) Remove(key string) bool {
	if !c.allow() {
		return false
	}
	c.purge(key)
	return true
}

// Clear removes every secure entry, leaving the device key in place.
func (c *Cache) Clear() bool {
	if !c.allow() {
		return false
	}
	keys, err := c.kv.Keys(secureKeyPrefix)
	if err != nil {
		return false
	}
	for _, k := range keys {
		_ = c.kv.Delete(k)
	}
	return true
}

func (c *Cache) allow() bool {
	if c.limiter == nil {
		return true
	}
	if !c.limiter.Check(storageAccessKey).Allowed {
		return false
	}
	c.limiter.RecordAttempt(storageAccessKey)
	return true
}

func (c *Cache) purge(key string) {
	_ = c.kv.Delete(secureKeyPrefix + key)
	_ = c.kv.Delete(secureKeyPrefix + key + timestampSuffix)
}
