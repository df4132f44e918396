// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command counter holds a local count and doubles it through counterd.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/luxfi/serverfn"
	"github.com/luxfi/serverfn/config"
	"github.com/luxfi/serverfn/internal/counter"
	"github.com/luxfi/serverfn/logging"
)

func main() {
	addr := flag.String("addr", "localhost:9000", "server address")
	transport := flag.String("transport", serverfn.DefaultTransport, "zap | http | jsonrpc | grpc")
	initial := flag.Int("initial", 0, "initial count")
	times := flag.Int("times", 1, "how many times to double")
	timeout := flag.Duration("timeout", 10*time.Second, "per-call timeout")
	token := flag.String("token", "", "bearer token for http and jsonrpc")
	flag.Parse()

	logger, err := logging.New(config.Log{Level: "info"})
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client, err := serverfn.Dial(ctx, *addr,
		serverfn.WithTransport(*transport),
		serverfn.WithClientLogger(logger),
		serverfn.WithBearerToken(*token),
		serverfn.WithDialTimeout(5*time.Second),
	)
	if err != nil {
		logger.Fatal("dial failed", zap.String("addr", *addr), zap.Error(err))
	}
	defer client.Close()

	m := counter.NewModel(client, *initial)
	cancelSub := m.Count.Subscribe(func(n int) {
		logger.Info("High-Five counter", zap.Int("count", n))
	})
	defer cancelSub()

	for i := 0; i < *times; i++ {
		callCtx, cancel := context.WithTimeout(ctx, *timeout)
		err := m.Double(callCtx, serverfn.WithHeader("User-Agent", "serverfn-counter/1"))
		cancel()
		if err != nil {
			logger.Error("double failed",
				zap.Stringer("kind", serverfn.KindOf(err)),
				zap.Int("count", m.Count.Get()),
				zap.Error(err),
			)
			os.Exit(1)
		}
	}
}
