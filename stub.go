// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CallOption adjusts the envelope of one call
type CallOption func(*CallEnvelope)

// WithHeader adds request metadata
func WithHeader(key, value string) CallOption {
	return func(env *CallEnvelope) {
		if env.Headers == nil {
			env.Headers = make(Metadata)
		}
		env.Headers.Set(key, value)
	}
}

// WithPath sets the request path seen by the handler
func WithPath(path string) CallOption {
	return func(env *CallEnvelope) { env.Path = path }
}

// WithParam sets a path parameter seen by the handler
func WithParam(name, value string) CallOption {
	return func(env *CallEnvelope) {
		if env.Params == nil {
			env.Params = make(map[string]string)
		}
		env.Params[name] = value
	}
}

// WithCallID overrides the generated call ID
func WithCallID(id string) CallOption {
	return func(env *CallEnvelope) { env.CallID = id }
}

// Call invokes fn on the remote side and returns its decoded result.
func (fn Function[A, R]) Call(ctx context.Context, c Client, args A, opts ...CallOption) (R, error) {
	r, _, err := fn.Invoke(ctx, c, args, opts...)
	return r, err
}

// Invoke is Call that also returns the response metadata.
//
// The stub does not retry. If ctx ends before the response is decoded the
// response is dropped and a KindTransport error wrapping ctx.Err() is
// returned, so the caller never applies a result it stopped waiting for.
func (fn Function[A, R]) Invoke(ctx context.Context, c Client, args A, opts ...CallOption) (R, Metadata, error) {
	var zero R
	codec, ok := LookupCodec(fn.Encoding)
	if !ok {
		return zero, nil, errorf(KindDecode, "%w: %q", ErrUnknownEncoding, fn.Encoding)
	}

	payload, err := codec.Encode(args)
	if err != nil {
		return zero, nil, errorf(KindDecode, "encode arguments for %q: %w", fn.ID, err)
	}

	env := &CallEnvelope{
		CallID:   uuid.NewString(),
		Function: fn.ID,
		Encoding: codec.Name(),
		Payload:  payload,
	}
	for _, opt := range opts {
		opt(env)
	}

	resp, err := c.RoundTrip(ctx, env)
	if cerr := ctx.Err(); cerr != nil {
		return zero, nil, &Error{Kind: KindTransport, Message: fmt.Sprintf("call %q abandoned: %v", fn.ID, cerr), Err: cerr}
	}
	if err != nil {
		return zero, nil, asCallError(KindTransport, err)
	}

	if resp.Encoding != "" && resp.Encoding != codec.Name() {
		return zero, nil, errorf(KindDecode, "response for %q has encoding %q, want %q", fn.ID, resp.Encoding, codec.Name())
	}
	var out R
	if err := codec.Decode(resp.Payload, &out); err != nil {
		return zero, nil, errorf(KindDecode, "decode result of %q: %w", fn.ID, err)
	}
	return out, resp.Headers.canonical(), nil
}
