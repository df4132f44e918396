// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/luxfi/serverfn"
)

var (
	echoFn  = serverfn.Define[int, int]("test", "Echo", serverfn.EncodingMsgpack)
	otherFn = serverfn.Define[int, int]("test", "Other", serverfn.EncodingMsgpack)
	waitFn  = serverfn.Define[int, int]("test", "Wait", serverfn.EncodingMsgpack)
)

var errNegative = errors.New("negative input")

// newClient serves echoFn, otherFn and waitFn behind mws in-process.
// echoFn fails for negative input; waitFn blocks until its context ends.
func newClient(t *testing.T, mws ...serverfn.Middleware) serverfn.Client {
	t.Helper()

	reg := serverfn.NewRegistry()
	echo := func(_ context.Context, _ *serverfn.RequestContext, n int) (int, error) {
		if n < 0 {
			return 0, errNegative
		}
		return n, nil
	}
	serverfn.MustRegister(reg, echoFn, echo)
	serverfn.MustRegister(reg, otherFn, echo)
	serverfn.MustRegister(reg, waitFn, func(ctx context.Context, _ *serverfn.RequestContext, _ int) (int, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(5 * time.Second):
			return 0, errors.New("deadline never arrived")
		}
	})
	return serverfn.NewLocalClient(serverfn.NewRouter(reg, nil, serverfn.WithMiddleware(mws...)))
}

func TestTimeout(t *testing.T) {
	client := newClient(t, Timeout(20*time.Millisecond))

	start := time.Now()
	_, err := waitFn.Call(context.Background(), client, 0)
	if serverfn.KindOf(err) != serverfn.KindExecution || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want execution error wrapping DeadlineExceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("deadline not applied")
	}

	if got, err := echoFn.Call(context.Background(), client, 4); err != nil || got != 4 {
		t.Fatalf("fast call: %d, %v", got, err)
	}
}

func TestTimeoutZeroDisabled(t *testing.T) {
	client := newClient(t, Timeout(0))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// only the caller's deadline applies
	_, err := waitFn.Call(ctx, client, 0)
	if serverfn.KindOf(err) != serverfn.KindTransport || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	client := newClient(t, RateLimit(0.001, 2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := echoFn.Call(ctx, client, i); err != nil {
			t.Fatalf("call %d within burst: %v", i, err)
		}
	}
	_, err := echoFn.Call(ctx, client, 3)
	if serverfn.KindOf(err) != serverfn.KindExecution || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("over limit: %v", err)
	}

	// buckets are per function
	if _, err := otherFn.Call(ctx, client, 1); err != nil {
		t.Fatalf("other function limited: %v", err)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	client := newClient(t, RateLimit(0, 0))
	for i := 0; i < 50; i++ {
		if _, err := echoFn.Call(context.Background(), client, i); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
}
