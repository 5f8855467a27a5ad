package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// FakeStore is an in-memory Store for testing.
type FakeStore struct {
	mu     sync.Mutex
	data   map[string]string
	closed bool

	// Sets counts successful Set calls.
	Sets int

	// Injected errors.
	GetError  error
	SetError  error
	ListError error
}

// NewFakeStore creates a FakeStore seeded with the given entries.
func NewFakeStore(seed map[string]string) *FakeStore {
	data := make(map[string]string, len(seed))
	for k, v := range seed {
		data[k] = v
	}
	return &FakeStore{data: data}
}

func (f *FakeStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", false, ErrClosed
	}
	if f.GetError != nil {
		return "", false, f.GetError
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *FakeStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.SetError != nil {
		return f.SetError
	}
	f.data[key] = value
	f.Sets++
	return nil
}

func (f *FakeStore) List(_ context.Context, prefix string) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if f.ListError != nil {
		return nil, f.ListError
	}
	var out []Entry
	for k, v := range f.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Entry{Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *FakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Value returns the stored value for key, for assertions.
func (f *FakeStore) Value(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[key]
}

// SetErr replaces the injected Set error while the store is in use.
func (f *FakeStore) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetError = err
}
