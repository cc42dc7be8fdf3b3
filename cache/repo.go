package cache

import "context"

// Repo is the key/value port behind the credential cache. Values are opaque
// bytes; last writer wins per key.
type Repo interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}
