// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package middleware

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	client := newClient(t, Logging(zap.New(core)))

	echoFn.Call(context.Background(), client, 1)
	echoFn.Call(context.Background(), client, -1)

	done := logs.FilterMessage("call completed").All()
	if len(done) != 1 || done[0].ContextMap()["function"] != "test/Echo" {
		t.Fatalf("completed entries %+v", done)
	}
	failed := logs.FilterMessage("call failed").All()
	if len(failed) != 1 {
		t.Fatalf("failed entries %+v", failed)
	}
	if failed[0].Level != zap.WarnLevel || failed[0].ContextMap()["kind"] != "execution" {
		t.Fatalf("failed entry %+v", failed[0])
	}
}
