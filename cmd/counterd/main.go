// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command counterd serves the counter's DoubleServer function on every
// listener in its configuration (SERVERFN_CONFIG, default: ZAP on :9000).
package main

import (
	"flag"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/luxfi/serverfn"
	"github.com/luxfi/serverfn/internal/counter"
	"github.com/luxfi/serverfn/serverfx"
)

func main() {
	configPath := flag.String("config", "", "config file (.toml or .yaml); SERVERFN_CONFIG takes precedence")
	delay := flag.Duration("delay", time.Second, "simulated work per DoubleServer call")
	flag.Parse()

	fx.New(
		fx.Supply(serverfx.Options{Service: "counterd", DefaultConfig: *configPath}),
		serverfx.Module,
		fx.WithLogger(serverfx.Logger),
		fx.Provide(func(l *zap.Logger) *counter.Service {
			return counter.NewService(l, *delay)
		}),
		fx.Invoke(func(store *serverfn.Store) error {
			_, err := counter.Bootstrap(store)
			return err
		}),
		fx.Invoke(counter.Register),
	).Run()
}
