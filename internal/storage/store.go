// Package storage provides the durable per-origin key/value store shared by
// every tab of the portal. Session credentials are persisted here so a new
// tab can resume an existing login, and so one tab's logout is visible to
// all others.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("storage: key not found")

// Store is a minimal key/value persistence collaborator. All values are
// strings; callers JSON-encode structured values themselves.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}
