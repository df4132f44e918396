// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package serverfx wires a serverfn process with fx: configuration, logger,
// context store, registry, router and one server per configured listener.
//
// Applications add their functions and store entries with fx.Invoke; the
// listeners start after every invoke has run, which is when the registry
// and store are sealed.
package serverfx

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/luxfi/serverfn"
	"github.com/luxfi/serverfn/config"
	"github.com/luxfi/serverfn/logging"
	"github.com/luxfi/serverfn/middleware"
)

// Options allow per-service defaults without code duplication.
type Options struct {
	Service       string // "counterd", ...
	DefaultConfig string // used when SERVERFN_CONFIG is unset; empty means built-in defaults
}

// Module provides the serverfn runtime. Supply Options alongside it.
var Module = fx.Module("serverfn",
	fx.Provide(
		provideConfig,
		provideLogger,
		serverfn.NewStore,
		serverfn.NewRegistry,
		provideMetrics,
		provideRouter,
	),
	fx.Invoke(registerListeners),
)

// Logger routes fx's own events through the process logger.
func Logger(l *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: l.Named("fx")}
}

func provideConfig(o Options) (config.Config, error) {
	cfg, err := config.LoadFromEnv(o.DefaultConfig)
	if err != nil {
		return config.Config{}, err
	}
	if o.Service != "" && cfg.Server.Name == config.Default().Server.Name {
		cfg.Server.Name = o.Service
	}
	return cfg, nil
}

func provideLogger(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	l, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	l = l.With(zap.String("service", cfg.Server.Name))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = l.Sync()
			return nil
		},
	})
	return l, nil
}

type metricsOut struct {
	fx.Out

	Registry *prometheus.Registry
	Handler  http.Handler `name:"metrics"`
}

func provideMetrics() metricsOut {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metricsOut{
		Registry: reg,
		Handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}
}

type routerDeps struct {
	fx.In

	Config   config.Config
	Logger   *zap.Logger
	Registry *serverfn.Registry
	Store    *serverfn.Store
	Metrics  *prometheus.Registry
}

func provideRouter(d routerDeps) *serverfn.Router {
	mws := []serverfn.Middleware{middleware.Logging(d.Logger)}
	if d.Config.Router.Tracing {
		mws = append(mws, middleware.Tracing())
	}
	mws = append(mws,
		middleware.Metrics(d.Metrics),
		middleware.RateLimit(d.Config.Router.RateLimitRPS, d.Config.Router.RateLimitBurst),
		middleware.Timeout(d.Config.Router.Timeout()),
	)
	return serverfn.NewRouter(d.Registry, d.Store,
		serverfn.WithLogger(d.Logger),
		serverfn.WithMiddleware(mws...),
	)
}

type listenerDeps struct {
	fx.In

	Config  config.Config
	Logger  *zap.Logger
	Router  *serverfn.Router
	Metrics http.Handler `name:"metrics"`
}

func registerListeners(lc fx.Lifecycle, d listenerDeps) {
	serveCtx, cancel := context.WithCancel(context.Background())
	var servers []serverfn.Server

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			for _, l := range d.Config.Listeners {
				opts := []serverfn.ServerOption{
					serverfn.WithServerTransport(l.Transport),
					serverfn.WithServerLogger(d.Logger.With(zap.String("transport", l.Transport))),
					serverfn.WithHMACSecret(d.Config.Auth.Secret()),
				}
				if l.Prefix != "" {
					opts = append(opts, serverfn.WithPrefix(l.Prefix))
				}
				if l.Metrics {
					opts = append(opts, serverfn.WithMetricsHandler(d.Metrics))
				}

				srv, err := serverfn.Listen(l.Addr, d.Router, opts...)
				if err != nil {
					cancel()
					return errors.Join(err, closeAll(servers))
				}
				servers = append(servers, srv)

				go func(l config.Listener) {
					if err := srv.Serve(serveCtx); err != nil {
						d.Logger.Error("server stopped", zap.String("transport", l.Transport), zap.String("addr", l.Addr), zap.Error(err))
					}
				}(l)
			}
			d.Router.Seal()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return closeAll(servers)
		},
	})
}

func closeAll(servers []serverfn.Server) error {
	var errs []error
	for _, s := range servers {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
