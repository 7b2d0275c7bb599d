// Package kv defines the key-value collaborator used to persist analysis records.
package kv

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when no value is stored under the key
var ErrNotFound = errors.New("kv: key not found")

// ErrKeyExists is returned by Insert when the key is already taken
var ErrKeyExists = errors.New("kv: key already exists")

// Entry is one stored key/value pair
type Entry struct {
	Key   string
	Value []byte
}

// Store is a key-value store safe for concurrent access to distinct keys
type Store interface {
	// Insert stores value under key, failing with ErrKeyExists if the key is taken
	Insert(ctx context.Context, key string, value []byte) error
	// Get returns the value stored under key or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every entry whose key starts with prefix
	List(ctx context.Context, prefix string) ([]Entry, error)
	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process Store
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

// Insert implements Store
func (m *Memory) Insert(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; ok {
		return ErrKeyExists
	}
	m.entries[key] = append([]byte(nil), value...)
	return nil
}

// Get implements Store
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// List implements Store. Entries are ordered by key.
func (m *Memory) List(_ context.Context, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for k, v := range m.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Entry{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete implements Store
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Put overwrites key unconditionally. It exists for seeding tests and fixtures.
func (m *Memory) Put(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append([]byte(nil), value...)
}
