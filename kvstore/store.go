// Package kvstore holds the persistent key-value stores the offline
// subsystem keeps its JSON documents in.
package kvstore

import (
	"context"
)

// Store is an asynchronous-safe string key-value store. Get reports
// ok=false for a missing key; every method may fail with a storage error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
