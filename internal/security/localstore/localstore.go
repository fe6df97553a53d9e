// Package localstore provides the device-local key/value storage used by
// the rate limiter and secure cache. Implementations must be safe for
// concurrent use within a single process; no cross-device coordination is
// expected or provided.
package localstore

import "errors"

// ErrNotFound indicates the key has no stored value.
var ErrNotFound = errors.New("localstore: key not found")

// KV is the minimal storage contract: read, write, delete by key, plus
// enumeration for bulk cleanup.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
	Close() error
}
