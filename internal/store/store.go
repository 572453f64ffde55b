// Package store persists serialized call sessions between turns.
//
// Entries are short-lived: every Put refreshes the entry's time-to-live and
// the orchestrator deletes the entry when the call ends. Writes are last
// write wins; a call has a single writer.
package store

import (
	"context"
	"errors"
	"regexp"
)

var (
	ErrNotFound   = errors.New("session not found")
	ErrInvalidKey = errors.New("invalid session key")
	ErrClosed     = errors.New("store closed")
)

// SessionStore is a TTL-bounded key/value store for serialized sessions.
type SessionStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_=-]{1,128}$`)

// ValidateKey rejects keys the NATS KV backend would refuse.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}
