// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"context"
	"reflect"
	"sync"
)

// RequestContext is what a handler sees of the call it is serving: the
// process-wide Store, the request metadata, and a builder for response
// metadata. It lives for one call.
type RequestContext struct {
	store    *Store
	callID   string
	function FunctionID
	path     string
	params   map[string]string
	headers  Metadata

	mu          sync.Mutex
	respHeaders Metadata
}

func newRequestContext(store *Store, env *CallEnvelope) *RequestContext {
	return &RequestContext{
		store:       store,
		callID:      env.CallID,
		function:    env.Function,
		path:        env.Path,
		params:      env.Params,
		headers:     env.Headers.canonical(),
		respHeaders: make(Metadata),
	}
}

// NewRequestContext builds a RequestContext outside a router, for tests
// and for calling handlers in-process.
func NewRequestContext(store *Store, env *CallEnvelope) *RequestContext {
	if env == nil {
		env = &CallEnvelope{}
	}
	return newRequestContext(store, env)
}

func (rc *RequestContext) Store() *Store        { return rc.store }
func (rc *RequestContext) CallID() string       { return rc.callID }
func (rc *RequestContext) Function() FunctionID { return rc.function }
func (rc *RequestContext) Path() string         { return rc.path }

// Param returns the named path parameter
func (rc *RequestContext) Param(name string) string { return rc.params[name] }

// Header returns a request header
func (rc *RequestContext) Header(key string) string { return rc.headers.Get(key) }

// RequestHeaders returns a copy of the request metadata
func (rc *RequestContext) RequestHeaders() Metadata { return rc.headers.Clone() }

// SetResponseHeader sets response metadata that is sent with the result.
func (rc *RequestContext) SetResponseHeader(key, value string) {
	rc.mu.Lock()
	rc.respHeaders.Set(key, value)
	rc.mu.Unlock()
}

// ResponseHeaders returns a copy of the response metadata set so far
func (rc *RequestContext) ResponseHeaders() Metadata {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.respHeaders.Clone()
}

// Extract returns the Store value of type T, or a KindMissingContext error
// the handler may return as is or recover from.
func Extract[T any](rc *RequestContext) (T, error) {
	v, ok := Get[T](rc.store)
	if !ok {
		var zero T
		return zero, errorf(KindMissingContext, "no %v in context store", reflect.TypeFor[T]())
	}
	return v, nil
}

type requestContextKey struct{}

// WithRequestContext returns a child of ctx carrying rc.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the RequestContext of the call ctx belongs to.
func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok
}
