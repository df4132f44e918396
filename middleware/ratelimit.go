// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/luxfi/serverfn"
)

// ErrRateLimited is wrapped by the execution error of a rejected call.
var ErrRateLimited = errors.New("rate limited")

// RateLimit applies a token bucket per function. Calls over the limit fail
// immediately with a KindExecution error; they are not queued. A
// non-positive rps or burst disables limiting.
func RateLimit(rps float64, burst int) serverfn.Middleware {
	if rps <= 0 || burst <= 0 {
		return func(ctx context.Context, _ *serverfn.Call, next serverfn.Next) (interface{}, error) {
			return next(ctx)
		}
	}

	var (
		mu       sync.Mutex
		limiters = make(map[serverfn.FunctionID]*rate.Limiter)
	)
	limiterFor := func(id serverfn.FunctionID) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[id]
		if !ok {
			l = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[id] = l
		}
		return l
	}

	return func(ctx context.Context, call *serverfn.Call, next serverfn.Next) (interface{}, error) {
		if !limiterFor(call.Function).Allow() {
			return nil, &serverfn.Error{
				Kind:    serverfn.KindExecution,
				Message: fmt.Sprintf("%s: %v", call.Function, ErrRateLimited),
				Err:     ErrRateLimited,
			}
		}
		return next(ctx)
	}
}
