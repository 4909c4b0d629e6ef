package testutils

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/giuliop/ceremony/store"
)

// MemStore is an in-memory store.Store.
type MemStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	staged  map[string][]byte

	// PromoteErr, when set, is called before every promotion or replace and
	// fails it with the returned error.
	PromoteErr func(name string) error
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{objects: map[string][]byte{}, staged: map[string][]byte{}}
}

func (m *MemStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := store.CheckName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	return append([]byte(nil), b...), nil
}

func (m *MemStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := store.CheckName(name); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[name]
	return ok, nil
}

func (m *MemStore) Stage(ctx context.Context, name string, data []byte) (store.Staged, error) {
	if err := store.CheckName(name); err != nil {
		return store.Staged{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	temp := "." + name + "." + uuid.NewString()
	m.staged[temp] = append([]byte(nil), data...)
	return store.Staged{Name: name, Temp: temp}, nil
}

func (m *MemStore) Promote(ctx context.Context, s store.Staged) error {
	return m.promote(s, false)
}

func (m *MemStore) Replace(ctx context.Context, s store.Staged) error {
	return m.promote(s, true)
}

func (m *MemStore) promote(s store.Staged, replace bool) error {
	if m.PromoteErr != nil {
		if err := m.PromoteErr(s.Name); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.staged[s.Temp]
	if !ok {
		return fmt.Errorf("%w: staged %s", store.ErrNotFound, s.Temp)
	}
	if _, exists := m.objects[s.Name]; exists && !replace {
		return fmt.Errorf("%w: %s", store.ErrExists, s.Name)
	}
	m.objects[s.Name] = b
	delete(m.staged, s.Temp)
	return nil
}

func (m *MemStore) Discard(ctx context.Context, s store.Staged) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.staged, s.Temp)
	return nil
}

func (m *MemStore) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[name]; !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	delete(m.objects, name)
	return nil
}

func (m *MemStore) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.objects))
	for n := range m.objects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Set writes an object directly, bypassing staging.
func (m *MemStore) Set(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = append([]byte(nil), data...)
}

// Staged returns the number of staged, not yet promoted writes.
func (m *MemStore) Staged() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.staged)
}

// Snapshot returns a copy of every visible object.
func (m *MemStore) Snapshot() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.objects))
	for k, v := range m.objects {
		out[k] = append([]byte(nil), v...)
	}
	return out
}
