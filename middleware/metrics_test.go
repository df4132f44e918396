// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package middleware

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)
	client := newClient(t, MetricsWithCollectors(c))

	ctx := context.Background()
	echoFn.Call(ctx, client, 1)
	echoFn.Call(ctx, client, 2)
	echoFn.Call(ctx, client, -1)

	if got := testutil.ToFloat64(c.Calls.WithLabelValues("test/Echo", "ok")); got != 2 {
		t.Fatalf("ok calls %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Calls.WithLabelValues("test/Echo", "execution")); got != 1 {
		t.Fatalf("failed calls %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.Duration, "serverfn_call_duration_seconds"); n != 1 {
		t.Fatalf("duration series %d, want 1", n)
	}
}

func TestNewCollectorsReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewCollectors(reg)
	b := NewCollectors(reg)
	if a.Calls != b.Calls || a.Duration != b.Duration {
		t.Fatal("second NewCollectors did not reuse the registered instruments")
	}

	// Metrics builds its own collectors against the same registry
	client := newClient(t, Metrics(reg))
	echoFn.Call(context.Background(), client, 1)
	if got := testutil.ToFloat64(a.Calls.WithLabelValues("test/Echo", "ok")); got != 1 {
		t.Fatalf("ok calls %v, want 1", got)
	}
}
