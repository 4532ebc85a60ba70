// Package storage holds the status document of a running exchange: per
// stream counters, queue depths and the last payloads received.
package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("Key not found")

// Update is sent to listeners whenever a key is written. Value is the raw
// JSON now stored under Key.
type Update struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

type Store interface {
	Set(ctx context.Context, key []byte, value interface{}) error

	// SetRaw stores value, which must already be valid JSON, as is
	SetRaw(ctx context.Context, key []byte, value []byte) error

	Get(ctx context.Context, key []byte) ([]byte, error)

	Restore(values []byte) error
	Backup() ([]byte, error)

	ListenToUpdates() <-chan *Update
	Unlisten(updates <-chan *Update)

	Close() error
}
