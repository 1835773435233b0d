// Package store persists conversation snapshots in a key-value backend.
//
// A Store encodes records with a Codec and writes them to a KV. Backends are
// interchangeable: a directory of files, a SQLite database, Redis or memory.
package store

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("key not found")
	ErrClosed   = errors.New("store closed")
)

// KV is an opaque key-value backend.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}
