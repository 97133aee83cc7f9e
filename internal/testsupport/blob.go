package testsupport

import (
	"context"
	"errors"
	"strings"
	"sync"

	"resonate/internal/blob"
)

// ErrInjectedPut is returned by FlakyBlobStore while it is still failing.
var ErrInjectedPut = errors.New("injected blob put failure")

// FlakyBlobStore wraps a blob.Store and fails the first N writes to keys
// ending in a given suffix.
type FlakyBlobStore struct {
	blob.Store

	suffix string

	mu        sync.Mutex
	remaining int
	failures  int
	puts      int
}

// NewFlakyBlobStore returns a store whose next failPuts writes to keys
// ending in suffix fail.
func NewFlakyBlobStore(inner blob.Store, suffix string, failPuts int) *FlakyBlobStore {
	return &FlakyBlobStore{Store: inner, suffix: suffix, remaining: failPuts}
}

func (f *FlakyBlobStore) Put(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	if strings.HasSuffix(key, f.suffix) {
		f.puts++
		if f.remaining > 0 {
			f.remaining--
			f.failures++
			f.mu.Unlock()
			return ErrInjectedPut
		}
	}
	f.mu.Unlock()
	return f.Store.Put(ctx, key, data)
}

// Failures reports how many writes were rejected.
func (f *FlakyBlobStore) Failures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}

// Puts reports how many writes matched the suffix.
func (f *FlakyBlobStore) Puts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}
