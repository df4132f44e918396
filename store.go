// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Store holds one shared value per type for the lifetime of the process.
//
// Values are inserted during bootstrap, before the store is sealed. After
// that the store is read-only; a value that needs to change while serving
// must synchronize itself (an atomic counter, a value guarding its own
// mutex). The store gives no ordering guarantee across calls beyond what
// those primitives provide.
type Store struct {
	mu      sync.RWMutex
	entries map[reflect.Type]interface{}
	sealed  atomic.Bool
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{entries: make(map[reflect.Type]interface{})}
}

// Insert registers v as the store's value for type T. Inserting the same
// type twice before Seal keeps the last value.
func Insert[T any](s *Store, v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed.Load() {
		return fmt.Errorf("insert %v: %w", reflect.TypeFor[T](), ErrStoreSealed)
	}
	s.entries[reflect.TypeFor[T]()] = v
	return nil
}

// MustInsert is Insert for bootstrap code that cannot proceed on failure.
func MustInsert[T any](s *Store, v T) {
	if err := Insert(s, v); err != nil {
		panic(err)
	}
}

// Get returns the value registered for type T.
func Get[T any](s *Store) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	s.mu.RLock()
	v, ok := s.entries[reflect.TypeFor[T]()]
	s.mu.RUnlock()
	if !ok {
		return zero, false
	}
	return v.(T), true
}

// Seal rejects further inserts. It is idempotent.
func (s *Store) Seal() {
	s.mu.Lock()
	s.sealed.Store(true)
	s.mu.Unlock()
}

// Sealed reports whether Seal was called
func (s *Store) Sealed() bool { return s.sealed.Load() }

// Len returns the number of registered types
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
