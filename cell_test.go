// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCellUpdateAndSubscribe(t *testing.T) {
	c := NewCell(1)

	var got []int
	cancel := c.Subscribe(func(v int) { got = append(got, v) })

	c.Set(5)
	c.Update(func(v int) int { return v * 3 })
	cancel()
	c.Set(0)

	if len(got) != 2 || got[0] != 5 || got[1] != 15 {
		t.Fatalf("notifications %v, want [5 15]", got)
	}
	if c.Get() != 0 || c.Version() != 3 {
		t.Fatalf("value %d version %d", c.Get(), c.Version())
	}
	cancel()
}

func TestResolveErrorLeavesCell(t *testing.T) {
	c := NewCell("kept")
	fail := errors.New("fetch failed")

	err := Resolve(context.Background(), c, func(context.Context, string) (string, error) {
		return "replaced", fail
	})
	if !errors.Is(err, fail) {
		t.Fatalf("Resolve: %v", err)
	}
	if c.Get() != "kept" || c.Version() != 0 {
		t.Fatalf("cell changed to %q", c.Get())
	}
}

func TestResolveAfterCancelLeavesCell(t *testing.T) {
	c := NewCell(5)
	ctx, cancel := context.WithCancel(context.Background())

	err := Resolve(ctx, c, func(_ context.Context, n int) (int, error) {
		cancel()
		return n * 2, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Resolve: %v", err)
	}
	if c.Get() != 5 {
		t.Fatalf("cell = %d, want 5", c.Get())
	}
}

// A call the client abandons still runs to completion on the server; its
// side effects stay, but its result never reaches the cell.
func TestAbandonedCallNotApplied(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	store := NewStore()
	h := &hits{}
	MustInsert(store, h)
	reg := NewRegistry()
	slow := Define[int, int]("", "Slow", EncodingMsgpack)
	MustRegister(reg, slow, func(_ context.Context, rc *RequestContext, n int) (int, error) {
		close(started)
		<-release
		st, err := Extract[*hits](rc)
		if err != nil {
			return 0, err
		}
		st.n.Add(1)
		return n * 2, nil
	})
	client := NewLocalClient(NewRouter(reg, store))

	c := NewCell(5)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- Resolve(ctx, c, func(ctx context.Context, n int) (int, error) {
			return slow.Call(ctx, client, n)
		})
	}()

	<-started
	cancel()
	close(release)

	select {
	case err := <-errc:
		if KindOf(err) != KindTransport || !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want transport error wrapping context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Resolve did not return")
	}

	if c.Get() != 5 {
		t.Fatalf("cell = %d, want 5", c.Get())
	}
	if h.n.Load() != 1 {
		t.Fatalf("server side effect %d, want 1", h.n.Load())
	}
}
