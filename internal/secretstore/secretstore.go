// Package secretstore is the secure, persistent key-value store that holds
// provider credentials. Values are opaque bytes; callers own the encoding.
// FileStore keeps one owner-only file per key; MemoryStore backs tests and
// ephemeral sessions.
package secretstore

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrUnavailable is returned when the backing store cannot be reached
// (unreadable directory, permission failure, closed store).
var ErrUnavailable = errors.New("secretstore: store unavailable")

// ErrInvalidKey is returned for keys outside the allowed alphabet.
var ErrInvalidKey = errors.New("secretstore: invalid key")

// Store is an opaque put/get/delete store keyed by string.
// Get returns (nil, nil) when the key is absent.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

var validKey = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,127}$`)

func checkKey(key string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return nil
}
