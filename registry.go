// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// FunctionID names one remote function. Namespace may be empty.
type FunctionID struct {
	Namespace string `msgpack:"ns,omitempty" json:"ns,omitempty"`
	Name      string `msgpack:"name" json:"name"`
}

// String returns "namespace/name", or just the name for the root namespace.
func (id FunctionID) String() string {
	if id.Namespace == "" {
		return id.Name
	}
	return id.Namespace + "/" + id.Name
}

// Valid reports whether id can be registered
func (id FunctionID) Valid() bool {
	return id.Name != "" && !strings.Contains(id.Name, "/")
}

// ParseFunctionID splits s at its last slash. Leading and trailing slashes
// are ignored.
func ParseFunctionID(s string) (FunctionID, error) {
	s = strings.Trim(s, "/")
	var id FunctionID
	if i := strings.LastIndex(s, "/"); i >= 0 {
		id = FunctionID{Namespace: s[:i], Name: s[i+1:]}
	} else {
		id = FunctionID{Name: s}
	}
	if !id.Valid() {
		return FunctionID{}, fmt.Errorf("%w: %q", ErrInvalidFunctionID, s)
	}
	return id, nil
}

// Function declares a remote function taking A and returning R. The same
// value is used to register the handler and to call it, so both ends agree
// on identifier and encoding.
type Function[A, R any] struct {
	ID       FunctionID
	Encoding string
}

// Define declares a function. An empty encoding selects DefaultEncoding.
func Define[A, R any](namespace, name, encoding string) Function[A, R] {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return Function[A, R]{
		ID:       FunctionID{Namespace: strings.Trim(namespace, "/"), Name: name},
		Encoding: encoding,
	}
}

// Handler executes one call of a Function[A, R]. It may block; the router
// waits for it to return.
type Handler[A, R any] func(ctx context.Context, rc *RequestContext, args A) (R, error)

// entry is a type-erased registered function.
type entry struct {
	id     FunctionID
	codec  Codec
	decode func(payload []byte) (interface{}, error)
	call   func(ctx context.Context, rc *RequestContext, args interface{}) (interface{}, error)
}

// Registry maps function identifiers to handlers.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[FunctionID]*entry
	sealed  atomic.Bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[FunctionID]*entry)}
}

// Register binds h to fn. Registering an identifier twice is an error.
func Register[A, R any](r *Registry, fn Function[A, R], h Handler[A, R]) error {
	if !fn.ID.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFunctionID, fn.ID)
	}
	codec, ok := LookupCodec(fn.Encoding)
	if !ok {
		return fmt.Errorf("register %s: %w: %q", fn.ID, ErrUnknownEncoding, fn.Encoding)
	}
	if h == nil {
		return fmt.Errorf("register %s: nil handler", fn.ID)
	}

	e := &entry{
		id:    fn.ID,
		codec: codec,
		decode: func(payload []byte) (interface{}, error) {
			var args A
			if len(payload) == 0 {
				return args, nil
			}
			if err := codec.Decode(payload, &args); err != nil {
				return nil, err
			}
			return args, nil
		},
		call: func(ctx context.Context, rc *RequestContext, args interface{}) (interface{}, error) {
			return h(ctx, rc, args.(A))
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return fmt.Errorf("register %s: %w", fn.ID, ErrRegistrySealed)
	}
	if _, exists := r.entries[fn.ID]; exists {
		return fmt.Errorf("register %s: %w", fn.ID, ErrDuplicateFunction)
	}
	r.entries[fn.ID] = e
	return nil
}

// MustRegister is Register for bootstrap code.
func MustRegister[A, R any](r *Registry, fn Function[A, R], h Handler[A, R]) {
	if err := Register(r, fn, h); err != nil {
		panic(err)
	}
}

func (r *Registry) lookup(id FunctionID) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Has reports whether id is registered
func (r *Registry) Has(id FunctionID) bool {
	_, ok := r.lookup(id)
	return ok
}

// Encoding returns the encoding id was registered with
func (r *Registry) Encoding(id FunctionID) (string, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return "", false
	}
	return e.codec.Name(), true
}

// Functions returns all registered identifiers, sorted by String()
func (r *Registry) Functions() []FunctionID {
	r.mu.RLock()
	ids := make([]FunctionID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Seal rejects further registrations. It waits for a registration in
// progress to finish.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}
