package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo keeps entries for the lifetime of the process, the way a tab's
// session storage lives for the lifetime of the tab.
type InMemoryRepo struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		entries: make(map[string][]byte),
	}
}

func (r *InMemoryRepo) Get(_ context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, fmt.Errorf("key is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	value, ok := r.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (r *InMemoryRepo) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Copy so callers can reuse their buffer
	r.entries[key] = append([]byte(nil), value...)
	return nil
}

func (r *InMemoryRepo) Delete(_ context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, key)
	return nil
}

func (r *InMemoryRepo) Keys(_ context.Context, prefix string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
