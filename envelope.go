// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"net/http"
	"net/textproto"
)

// Metadata maps header-like keys to string values. Keys are canonicalized
// the way HTTP header keys are, so "cache-control" and "Cache-Control" name
// the same entry regardless of which transport carried them.
type Metadata map[string]string

// Get returns the value for key, or "".
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[textproto.CanonicalMIMEHeaderKey(key)]
}

// Set stores value under the canonical form of key.
func (m Metadata) Set(key, value string) {
	m[textproto.CanonicalMIMEHeaderKey(key)] = value
}

// Del removes key.
func (m Metadata) Del(key string) {
	delete(m, textproto.CanonicalMIMEHeaderKey(key))
}

// Clone returns a copy of m; a nil m clones to an empty, non-nil Metadata.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// canonical rebuilds m with canonical keys (grpc metadata arrives lower-cased).
func (m Metadata) canonical() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out.Set(k, v)
	}
	return out
}

// MetadataFromHeader keeps the first value of every header.
func MetadataFromHeader(h http.Header) Metadata {
	out := make(Metadata, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out.Set(k, vs[0])
		}
	}
	return out
}

// WriteHeader copies m into h, replacing existing values.
func (m Metadata) WriteHeader(h http.Header) {
	for k, v := range m {
		h.Set(k, v)
	}
}

// CallEnvelope is one inbound call: the target, its encoded arguments and
// the request metadata.
type CallEnvelope struct {
	CallID   string            `msgpack:"call_id,omitempty" json:"call_id,omitempty"`
	Function FunctionID        `msgpack:"fn" json:"fn"`
	Encoding string            `msgpack:"enc" json:"enc"`
	Path     string            `msgpack:"path,omitempty" json:"path,omitempty"`
	Params   map[string]string `msgpack:"params,omitempty" json:"params,omitempty"`
	Headers  Metadata          `msgpack:"headers,omitempty" json:"headers,omitempty"`
	Payload  []byte            `msgpack:"payload,omitempty" json:"payload,omitempty"`
}

// ResponseEnvelope is the encoded result of one call plus the response
// metadata the handler set.
type ResponseEnvelope struct {
	Encoding string   `msgpack:"enc" json:"enc"`
	Headers  Metadata `msgpack:"headers,omitempty" json:"headers,omitempty"`
	Payload  []byte   `msgpack:"payload,omitempty" json:"payload,omitempty"`
}

// wireError is how an *Error travels inside a transport's own framing.
type wireError struct {
	Kind    string `msgpack:"kind" json:"kind"`
	Message string `msgpack:"message" json:"message"`
}

func toWireError(err error) wireError {
	e := asCallError(KindExecution, err)
	return wireError{Kind: e.Kind.String(), Message: e.Message}
}

func (w wireError) toError() *Error {
	return &Error{Kind: ParseKind(w.Kind), Message: w.Message}
}
