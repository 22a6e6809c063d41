package offline

import (
	"context"
	"encoding/json"

	"github.com/apex/log"

	"roadhazard/kvstore"
)

// readJSON loads key into v. Missing keys and undecodable values both
// report found=false; only store failures are returned as errors.
func readJSON(ctx context.Context, store kvstore.Store, key string, v interface{}) (bool, error) {
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return false, &StorageError{Op: "read", Key: key, Err: err}
	}
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		log.WithField("key", key).Warnf("Ignoring corrupt stored value: %v", err)
		return false, nil
	}
	return true, nil
}

func writeJSON(ctx context.Context, store kvstore.Store, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return &StorageError{Op: "encode", Key: key, Err: err}
	}
	if err := store.Set(ctx, key, string(b)); err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	return nil
}

func removeKey(ctx context.Context, store kvstore.Store, key string) error {
	if err := store.Remove(ctx, key); err != nil {
		return &StorageError{Op: "remove", Key: key, Err: err}
	}
	return nil
}
