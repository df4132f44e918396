// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/serverfn"
)

// Collectors are the prometheus instruments recorded by Metrics.
type Collectors struct {
	Calls    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewCollectors creates the instruments and registers them with reg. An
// instrument already registered with reg is reused.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "serverfn_calls_total", Help: "server function calls by outcome"},
			[]string{"function", "outcome"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "serverfn_call_duration_seconds",
				Help:    "server function execution time",
				Buckets: []float64{0.005, 0.05, 0.5, 1, 5, 10, 30},
			},
			[]string{"function"},
		),
	}
	c.Calls = register(reg, c.Calls)
	c.Duration = register(reg, c.Duration)
	return c
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Metrics records call counts and execution time with reg.
func Metrics(reg prometheus.Registerer) serverfn.Middleware {
	return MetricsWithCollectors(NewCollectors(reg))
}

// MetricsWithCollectors records into c. The outcome label is "ok" or the
// error kind.
func MetricsWithCollectors(c *Collectors) serverfn.Middleware {
	return func(ctx context.Context, call *serverfn.Call, next serverfn.Next) (interface{}, error) {
		start := time.Now()
		result, err := next(ctx)

		fn := call.Function.String()
		outcome := "ok"
		if err != nil {
			kind := serverfn.KindOf(err)
			if kind == serverfn.KindUnknown {
				kind = serverfn.KindExecution
			}
			outcome = kind.String()
		}
		c.Calls.WithLabelValues(fn, outcome).Inc()
		c.Duration.WithLabelValues(fn).Observe(time.Since(start).Seconds())
		return result, err
	}
}
