// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package counter is the high-five counter: a client-side count that can be
// doubled by a server function which also counts its own invocations.
package counter

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/luxfi/serverfn"
)

// Double doubles a number on the server. It uses a cacheable encoding so
// the http transport issues it as GET.
var Double = serverfn.Define[int, int]("", "DoubleServer", serverfn.EncodingGetMsgpack)

// CacheControl is the directive Double attaches to its responses
const CacheControl = "max-age=3600"

// State is shared by every call to Double for the life of the process.
type State struct {
	calls atomic.Uint64
}

// Calls returns how many times Double has run to completion
func (s *State) Calls() uint64 { return s.calls.Load() }

// Bootstrap inserts a fresh State into store and returns it.
func Bootstrap(store *serverfn.Store) (*State, error) {
	st := &State{}
	if err := serverfn.Insert(store, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Service implements Double.
type Service struct {
	logger *zap.Logger
	delay  time.Duration
}

// NewService creates the service. delay simulates expensive work.
func NewService(logger *zap.Logger, delay time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger, delay: delay}
}

// Double waits out the simulated work, then doubles n, marks the response
// cacheable for an hour and counts the call. A call cancelled during the
// wait is not counted.
func (s *Service) Double(ctx context.Context, rc *serverfn.RequestContext, n int) (int, error) {
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-t.C:
		}
	}
	result := n * 2

	s.logger.Info("double called", zap.String("userAgent", rc.Header("User-Agent")))
	rc.SetResponseHeader("Cache-Control", CacheControl)

	st, err := serverfn.Extract[*State](rc)
	if err != nil {
		return 0, err
	}
	prev := st.calls.Add(1) - 1
	s.logger.Info("server functions have been called",
		zap.Uint64("times", prev),
		zap.Int("result", result),
	)
	return result, nil
}

// Register binds the service's functions into reg.
func Register(reg *serverfn.Registry, svc *Service) error {
	return serverfn.Register(reg, Double, svc.Double)
}
