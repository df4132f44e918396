// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package middleware provides serverfn.Middleware for cross-cutting call
// concerns: logging, deadlines, metrics, tracing and rate limiting.
//
// Middleware run in the order given to serverfn.WithMiddleware, the first
// being the outermost:
//
//	router := serverfn.NewRouter(reg, store, serverfn.WithMiddleware(
//	    middleware.Logging(logger),
//	    middleware.Metrics(prometheus.DefaultRegisterer),
//	    middleware.Timeout(5*time.Second),
//	))
package middleware
