// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

var (
	ErrDuplicateFunction = errors.New("serverfn: function already registered")
	ErrInvalidFunctionID = errors.New("serverfn: invalid function identifier")
	ErrUnknownEncoding   = errors.New("serverfn: unknown encoding")
	ErrRegistrySealed    = errors.New("serverfn: registry sealed")
	ErrStoreSealed       = errors.New("serverfn: store sealed")
	ErrClientClosed      = errors.New("serverfn: client closed")
)

// Kind classifies a failed call so each transport can pick the right status.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindDecode
	KindExecution
	KindTransport
	KindMissingContext
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindNotFound:       "not_found",
	KindDecode:         "decode",
	KindExecution:      "execution",
	KindTransport:      "transport",
	KindMissingContext: "missing_context",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String. Unrecognised names map to KindUnknown.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnknown
}

// HTTPStatus returns the status code the http transport writes for k.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindDecode:
		return http.StatusBadRequest
	case KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode returns the status code the grpc transport uses for k.
func (k Kind) GRPCCode() codes.Code {
	switch k {
	case KindNotFound:
		return codes.NotFound
	case KindDecode:
		return codes.InvalidArgument
	case KindMissingContext:
		return codes.FailedPrecondition
	case KindExecution:
		return codes.Internal
	case KindTransport:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}

func kindFromGRPCCode(c codes.Code) Kind {
	switch c {
	case codes.NotFound:
		return KindNotFound
	case codes.InvalidArgument:
		return KindDecode
	case codes.FailedPrecondition:
		return KindMissingContext
	case codes.Internal:
		return KindExecution
	default:
		return KindTransport
	}
}

// Error is the failure value that crosses the transport boundary.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("serverfn %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("serverfn %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}

func errorf(kind Kind, format string, args ...interface{}) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Message: err.Error(), Err: errors.Unwrap(err)}
}

// KindOf reports the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err is a KindNotFound failure.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// asCallError leaves an existing *Error alone and classifies anything else as kind.
func asCallError(kind Kind, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(kind, err)
}
