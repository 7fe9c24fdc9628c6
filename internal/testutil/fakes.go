package testutil

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipecrate/internal/datastore"
)

// MemStore is an in-memory datastore.Store that records every call.
type MemStore struct {
	mu sync.Mutex

	// Paths maps references to the local paths Fetch hands out.
	Paths map[string]string
	// FetchErrs and PutErrs inject failures per reference.
	FetchErrs map[string]error
	PutErrs   map[string]error

	// Stored maps references to a stable stored location; overwrites
	// keep the location, mirroring the local store's idempotency.
	Stored  map[string]string
	Fetches []string
	Puts    []string

	Closed bool
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		Paths:     map[string]string{},
		FetchErrs: map[string]error{},
		PutErrs:   map[string]error{},
		Stored:    map[string]string{},
	}
}

func (m *MemStore) Fetch(ctx context.Context, ref string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fetches = append(m.Fetches, ref)
	if err, ok := m.FetchErrs[ref]; ok {
		return "", err
	}
	if path, ok := m.Paths[ref]; ok {
		return path, nil
	}
	return "", &datastore.NotFoundError{Ref: ref}
}

func (m *MemStore) Put(ctx context.Context, localPath, ref string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Puts = append(m.Puts, ref)
	if err, ok := m.PutErrs[ref]; ok {
		return "", err
	}
	if _, ok := m.Stored[ref]; !ok {
		m.Stored[ref] = filepath.Join("mem", ref)
	}
	return ref, nil
}

func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// ExecutorFunc adapts a function to the executor.Executor interface.
type ExecutorFunc func(ctx context.Context, taskRef string, inputs map[string]cty.Value) (map[string]cty.Value, error)

func (f ExecutorFunc) Run(ctx context.Context, taskRef string, inputs map[string]cty.Value) (map[string]cty.Value, error) {
	return f(ctx, taskRef, inputs)
}
