// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/luxfi/serverfn"
)

// Logging logs the start and outcome of every call.
func Logging(logger *zap.Logger) serverfn.Middleware {
	return func(ctx context.Context, call *serverfn.Call, next serverfn.Next) (interface{}, error) {
		log := logger.With(
			zap.String("function", call.Function.String()),
			zap.String("callId", call.CallID),
			zap.String("encoding", call.Encoding),
		)
		log.Debug("call started")

		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			log.Warn("call failed",
				zap.Duration("elapsed", elapsed),
				zap.Stringer("kind", serverfn.KindOf(err)),
				zap.Error(err),
			)
		} else {
			log.Info("call completed", zap.Duration("elapsed", elapsed))
		}
		return result, err
	}
}
