// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"context"
	"sync"
)

// Cell is a client-side observable value. It has one writer (the code path
// that owns it) and any number of readers and subscribers.
type Cell[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
	subs    map[uint64]func(T)
	nextSub uint64
}

// NewCell creates a cell holding initial
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial, subs: make(map[uint64]func(T))}
}

// Get returns the current value
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Version counts the writes applied to the cell
func (c *Cell[T]) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Set replaces the value and notifies subscribers.
func (c *Cell[T]) Set(v T) {
	c.Update(func(T) T { return v })
}

// Update applies fn to the current value and notifies subscribers.
func (c *Cell[T]) Update(fn func(T) T) {
	c.mu.Lock()
	c.value = fn(c.value)
	c.version++
	v := c.value
	subs := make([]func(T), 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s(v)
	}
}

// Subscribe calls fn with every new value until cancel is called.
func (c *Cell[T]) Subscribe(fn func(T)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Resolve feeds the result of fetch into c. fetch receives the value c held
// when Resolve started. On error, or when ctx ended before the result could
// be applied, c is left untouched and the error is returned.
func Resolve[T any](ctx context.Context, c *Cell[T], fetch func(ctx context.Context, current T) (T, error)) error {
	v, err := fetch(ctx, c.Get())
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Set(v)
	return nil
}
