// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

var allKinds = []Kind{KindNotFound, KindDecode, KindExecution, KindTransport, KindMissingContext}

func TestKindNames(t *testing.T) {
	for _, k := range allKinds {
		if got := ParseKind(k.String()); got != k {
			t.Errorf("ParseKind(%q) = %v", k.String(), got)
		}
	}
	if ParseKind("bogus") != KindUnknown {
		t.Error("unrecognised name should parse as unknown")
	}
}

func TestKindStatusCodes(t *testing.T) {
	if KindNotFound.HTTPStatus() != http.StatusNotFound || KindDecode.HTTPStatus() != http.StatusBadRequest {
		t.Fatal("unexpected http status mapping")
	}
	for _, k := range allKinds {
		if got := kindFromGRPCCode(k.GRPCCode()); got != k {
			t.Errorf("grpc code round trip of %v gave %v", k, got)
		}
	}
}

func TestErrorMatching(t *testing.T) {
	base := errors.New("disk on fire")
	err := fmt.Errorf("wrapped: %w", newError(KindExecution, base))

	if KindOf(err) != KindExecution {
		t.Fatalf("KindOf = %v", KindOf(err))
	}
	if !errors.Is(err, base) {
		t.Fatal("cause not reachable")
	}
	if !errors.Is(err, &Error{Kind: KindExecution}) {
		t.Fatal("kind match failed")
	}
	if errors.Is(err, &Error{Kind: KindDecode}) {
		t.Fatal("matched the wrong kind")
	}
	if KindOf(base) != KindUnknown {
		t.Fatal("plain error has a kind")
	}
}

func TestWireErrorKeepsKind(t *testing.T) {
	we := toWireError(errorf(KindMissingContext, "no %s", "db"))
	got := we.toError()
	if got.Kind != KindMissingContext || got.Message != "no db" {
		t.Fatalf("got %+v", got)
	}
	if toWireError(errors.New("plain")).Kind != KindExecution.String() {
		t.Fatal("plain errors should travel as execution failures")
	}
}
