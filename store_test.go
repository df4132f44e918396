// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStoreGetMissing(t *testing.T) {
	if _, ok := Get[*hits](NewStore()); ok {
		t.Fatal("Get on empty store succeeded")
	}
	if _, ok := Get[int](nil); ok {
		t.Fatal("Get on nil store succeeded")
	}
}

func TestStoreLastInsertWins(t *testing.T) {
	s := NewStore()
	MustInsert(s, 1)
	MustInsert(s, 2)

	v, ok := Get[int](s)
	if !ok || v != 2 {
		t.Fatalf("Get = %d, %v; want 2, true", v, ok)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestStoreKeysByType(t *testing.T) {
	type port int
	type retries int

	s := NewStore()
	MustInsert(s, port(8080))
	MustInsert(s, retries(3))

	p, _ := Get[port](s)
	r, _ := Get[retries](s)
	if p != 8080 || r != 3 {
		t.Fatalf("port %d, retries %d", p, r)
	}
	if _, ok := Get[int](s); ok {
		t.Fatal("int should not alias named int types")
	}
}

func TestStoreSealed(t *testing.T) {
	s := NewStore()
	MustInsert(s, "before")
	s.Seal()

	if err := Insert(s, "after"); !errors.Is(err, ErrStoreSealed) {
		t.Fatalf("Insert after Seal: %v", err)
	}
	if v, _ := Get[string](s); v != "before" {
		t.Fatalf("value changed to %q", v)
	}
	if !s.Sealed() {
		t.Fatal("Sealed() = false")
	}
}

func TestStoreConcurrentUpdates(t *testing.T) {
	s := NewStore()
	MustInsert(s, &hits{})
	s.Seal()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, ok := Get[*hits](s)
			if !ok {
				t.Error("missing *hits")
				return
			}
			h.n.Add(1)
		}()
	}
	wg.Wait()

	h, _ := Get[*hits](s)
	if h.n.Load() != n {
		t.Fatalf("count %d, want %d", h.n.Load(), n)
	}
}

type counted[T any] struct{ n int64 }

func insertUntilSealed[T any](s *Store, last *atomic.Int64) {
	for i := int64(1); ; i++ {
		if err := Insert(s, counted[T]{n: i}); err != nil {
			return
		}
		last.Store(i)
	}
}

func TestStoreSealWaitsForInsert(t *testing.T) {
	s := NewStore()
	var (
		wg   sync.WaitGroup
		last [3]atomic.Int64
	)
	wg.Add(3)
	go func() { defer wg.Done(); insertUntilSealed[int](s, &last[0]) }()
	go func() { defer wg.Done(); insertUntilSealed[string](s, &last[1]) }()
	go func() { defer wg.Done(); insertUntilSealed[bool](s, &last[2]) }()

	time.Sleep(5 * time.Millisecond)
	s.Seal()
	n := s.Len()
	a, _ := Get[counted[int]](s)
	b, _ := Get[counted[string]](s)
	c, _ := Get[counted[bool]](s)
	wg.Wait()

	if s.Len() != n {
		t.Fatalf("Len %d after Seal, %d once inserts stopped", n, s.Len())
	}
	for i, n := range []int64{a.n, b.n, c.n} {
		if n != last[i].Load() {
			t.Fatalf("slot %d: value %d at Seal, last accepted insert %d", i, n, last[i].Load())
		}
	}
	if err := Insert(s, counted[float64]{}); !errors.Is(err, ErrStoreSealed) {
		t.Fatalf("Insert after Seal: %v", err)
	}
}
