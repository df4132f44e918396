// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func nopHandler(context.Context, *RequestContext, int) (int, error) { return 0, nil }

func TestParseFunctionID(t *testing.T) {
	tests := []struct {
		in      string
		want    FunctionID
		wantErr bool
	}{
		{in: "DoubleServer", want: FunctionID{Name: "DoubleServer"}},
		{in: "math/Add", want: FunctionID{Namespace: "math", Name: "Add"}},
		{in: "/a/b/c/", want: FunctionID{Namespace: "a/b", Name: "c"}},
		{in: "", wantErr: true},
		{in: "/", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFunctionID(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidFunctionID) {
				t.Errorf("ParseFunctionID(%q): err %v, want ErrInvalidFunctionID", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFunctionID(%q) = %+v, %v; want %+v", tt.in, got, err, tt.want)
		}
		if got.String() != trimSlashes(tt.in) {
			t.Errorf("String() = %q, want %q", got.String(), trimSlashes(tt.in))
		}
	}
}

func trimSlashes(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func TestDefineDefaultsEncoding(t *testing.T) {
	fn := Define[int, int]("/ns/", "F", "")
	if fn.Encoding != DefaultEncoding {
		t.Fatalf("encoding %q, want %q", fn.Encoding, DefaultEncoding)
	}
	if fn.ID.String() != "ns/F" {
		t.Fatalf("id %q", fn.ID)
	}
}

func TestRegisterRejects(t *testing.T) {
	sealed := NewRegistry()
	sealed.Seal()

	dup := NewRegistry()
	MustRegister(dup, Define[int, int]("", "F", ""), nopHandler)

	tests := []struct {
		name string
		reg  *Registry
		fn   Function[int, int]
		h    Handler[int, int]
		want error
	}{
		{"duplicate", dup, Define[int, int]("", "F", EncodingMsgpack), nopHandler, ErrDuplicateFunction},
		{"empty name", NewRegistry(), Define[int, int]("ns", "", ""), nopHandler, ErrInvalidFunctionID},
		{"slash in name", NewRegistry(), Define[int, int]("", "a/b", ""), nopHandler, ErrInvalidFunctionID},
		{"unknown encoding", NewRegistry(), Define[int, int]("", "F", "yaml"), nopHandler, ErrUnknownEncoding},
		{"sealed", sealed, Define[int, int]("", "F", ""), nopHandler, ErrRegistrySealed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Register(tt.reg, tt.fn, tt.h); !errors.Is(err, tt.want) {
				t.Fatalf("Register: %v, want %v", err, tt.want)
			}
		})
	}

	if err := Register(NewRegistry(), Define[int, int]("", "F", ""), nil); err == nil {
		t.Fatal("nil handler accepted")
	}
}

func TestRegistryIntrospection(t *testing.T) {
	reg := NewRegistry()
	MustRegister(reg, Define[int, int]("b", "Two", EncodingMsgpack), nopHandler)
	MustRegister(reg, Define[int, int]("a", "One", EncodingGetJSON), nopHandler)

	ids := reg.Functions()
	if len(ids) != 2 || ids[0].String() != "a/One" || ids[1].String() != "b/Two" {
		t.Fatalf("Functions() = %v", ids)
	}
	if enc, ok := reg.Encoding(FunctionID{Namespace: "a", Name: "One"}); !ok || enc != EncodingGetJSON {
		t.Fatalf("Encoding = %q, %v", enc, ok)
	}
	if reg.Has(FunctionID{Name: "One"}) {
		t.Fatal("namespace ignored by Has")
	}
}

func TestRegistrySealWaitsForRegister(t *testing.T) {
	reg := NewRegistry()
	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				fn := Define[int, int]("load", fmt.Sprintf("F%d_%d", w, i), EncodingJSON)
				if err := Register(reg, fn, nopHandler); err != nil {
					if !errors.Is(err, ErrRegistrySealed) {
						t.Errorf("Register: %v", err)
					}
					return
				}
				accepted.Add(1)
			}
		}(w)
	}

	time.Sleep(5 * time.Millisecond)
	reg.Seal()
	n := len(reg.Functions())
	wg.Wait()

	if got := len(reg.Functions()); got != n {
		t.Fatalf("%d functions at Seal, %d after", n, got)
	}
	if int64(n) != accepted.Load() {
		t.Fatalf("%d functions registered, %d registrations accepted", n, accepted.Load())
	}
}
