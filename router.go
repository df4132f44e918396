// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CallState is a step of the per-call state machine:
//
//	Received → Resolved → Decoded → Executing → Encoded → Sent
//
// Failed is terminal and reachable from Resolved, Decoded and Executing.
type CallState uint8

const (
	StateReceived CallState = iota
	StateResolved
	StateDecoded
	StateExecuting
	StateEncoded
	StateSent
	StateFailed
)

func (s CallState) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateResolved:
		return "resolved"
	case StateDecoded:
		return "decoded"
	case StateExecuting:
		return "executing"
	case StateEncoded:
		return "encoded"
	case StateSent:
		return "sent"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// StateHook observes call state transitions. It runs on the dispatching
// goroutine and must not block.
type StateHook func(env *CallEnvelope, state CallState)

// Call is the view of an executing call that middleware receives.
type Call struct {
	Function FunctionID
	CallID   string
	Encoding string
	Request  *RequestContext
	Args     interface{}
}

// Next continues the middleware chain.
type Next func(ctx context.Context) (interface{}, error)

// Middleware wraps handler execution. It must call next unless it
// short-circuits with an error.
type Middleware func(ctx context.Context, call *Call, next Next) (interface{}, error)

// Chain composes middleware; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, call *Call, next Next) (interface{}, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			inner := h
			h = func(ctx context.Context) (interface{}, error) {
				return mw(ctx, call, inner)
			}
		}
		return h(ctx)
	}
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithLogger sets the router's logger
func WithLogger(l *zap.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMiddleware appends router middleware
func WithMiddleware(mws ...Middleware) RouterOption {
	return func(r *Router) { r.middleware = append(r.middleware, mws...) }
}

// WithStateHook installs a call state observer
func WithStateHook(h StateHook) RouterOption {
	return func(r *Router) { r.hook = h }
}

// Router resolves inbound calls against a Registry and runs them with a
// RequestContext bound to a Store. It imposes no mutual exclusion between
// calls; concurrent calls to one function run concurrently.
type Router struct {
	registry   *Registry
	store      *Store
	logger     *zap.Logger
	middleware []Middleware
	hook       StateHook
	chain      Middleware
	sealOnce   sync.Once
}

// NewRouter creates a router. A nil store is replaced by an empty one.
func NewRouter(reg *Registry, store *Store, opts ...RouterOption) *Router {
	if store == nil {
		store = NewStore()
	}
	r := &Router{
		registry: reg,
		store:    store,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.chain = Chain(r.middleware...)
	return r
}

func (r *Router) Registry() *Registry { return r.registry }
func (r *Router) Store() *Store       { return r.store }
func (r *Router) Logger() *zap.Logger { return r.logger }

// Seal freezes the registry and the store. Dispatch seals on first use;
// servers seal when they start.
func (r *Router) Seal() {
	r.sealOnce.Do(func() {
		r.registry.Seal()
		r.store.Seal()
		r.logger.Info("router sealed",
			zap.Int("functions", len(r.registry.Functions())),
			zap.Int("contextEntries", r.store.Len()),
		)
	})
}

// Dispatch runs one call to completion. Every failure is returned as an
// *Error whose Kind tells NotFound, Decode, MissingContext and Execution
// apart; Dispatch never panics because of a handler.
func (r *Router) Dispatch(ctx context.Context, env *CallEnvelope) (*ResponseEnvelope, error) {
	r.Seal()
	if env.CallID == "" {
		env.CallID = uuid.NewString()
	}
	r.transition(env, StateReceived)

	e, ok := r.registry.lookup(env.Function)
	if !ok {
		return nil, r.fail(env, errorf(KindNotFound, "function %q not found", env.Function))
	}
	r.transition(env, StateResolved)

	if env.Encoding != "" && env.Encoding != e.codec.Name() {
		return nil, r.fail(env, errorf(KindDecode, "function %q uses encoding %q, call used %q",
			env.Function, e.codec.Name(), env.Encoding))
	}
	args, err := e.decode(env.Payload)
	if err != nil {
		return nil, r.fail(env, errorf(KindDecode, "decode arguments for %q: %w", env.Function, err))
	}
	r.transition(env, StateDecoded)

	rc := newRequestContext(r.store, env)
	ctx = WithRequestContext(ctx, rc)
	call := &Call{
		Function: env.Function,
		CallID:   env.CallID,
		Encoding: e.codec.Name(),
		Request:  rc,
		Args:     args,
	}

	r.transition(env, StateExecuting)
	result, err := r.chain(ctx, call, func(ctx context.Context) (interface{}, error) {
		return r.execute(ctx, e, rc, args)
	})
	if err != nil {
		return nil, r.fail(env, asCallError(KindExecution, err))
	}

	payload, err := e.codec.Encode(result)
	if err != nil {
		return nil, r.fail(env, errorf(KindExecution, "encode result of %q: %w", env.Function, err))
	}
	r.transition(env, StateEncoded)

	resp := &ResponseEnvelope{
		Encoding: e.codec.Name(),
		Headers:  rc.ResponseHeaders(),
		Payload:  payload,
	}
	r.transition(env, StateSent)
	return resp, nil
}

func (r *Router) execute(ctx context.Context, e *entry, rc *RequestContext, args interface{}) (result interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panicked",
				zap.String("function", e.id.String()),
				zap.String("callId", rc.CallID()),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			err = errorf(KindExecution, "panic in %q: %v", e.id, p)
		}
	}()
	result, err = e.call(ctx, rc, args)
	if err != nil {
		return nil, asCallError(KindExecution, err)
	}
	return result, nil
}

func (r *Router) transition(env *CallEnvelope, s CallState) {
	if ce := r.logger.Check(zap.DebugLevel, "call state"); ce != nil {
		ce.Write(
			zap.String("function", env.Function.String()),
			zap.String("callId", env.CallID),
			zap.Stringer("state", s),
		)
	}
	if r.hook != nil {
		r.hook(env, s)
	}
}

func (r *Router) fail(env *CallEnvelope, err *Error) *Error {
	r.logger.Debug("call failed",
		zap.String("function", env.Function.String()),
		zap.String("callId", env.CallID),
		zap.Stringer("kind", err.Kind),
		zap.String("error", err.Message),
	)
	r.transition(env, StateFailed)
	return err
}
