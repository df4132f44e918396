// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package middleware

import (
	"context"
	"time"

	"github.com/luxfi/serverfn"
)

// Timeout bounds handler execution by d. A zero d disables it. Handlers
// must honour ctx for the deadline to have effect; mutations a handler made
// before the deadline are not rolled back.
func Timeout(d time.Duration) serverfn.Middleware {
	return func(ctx context.Context, _ *serverfn.Call, next serverfn.Next) (interface{}, error) {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
