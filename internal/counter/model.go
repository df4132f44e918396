// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package counter

import (
	"context"

	"github.com/luxfi/serverfn"
)

// Model is the client side of the counter. Its count changes locally with
// Up and Down and remotely with Double.
type Model struct {
	Count  *serverfn.Cell[int]
	client serverfn.Client
}

// NewModel starts the count at initial
func NewModel(client serverfn.Client, initial int) *Model {
	return &Model{Count: serverfn.NewCell(initial), client: client}
}

func (m *Model) Up()   { m.Count.Update(func(n int) int { return n + 1 }) }
func (m *Model) Down() { m.Count.Update(func(n int) int { return n - 1 }) }

// Double asks the server to double the current count. The count only
// changes if the call succeeds before ctx ends.
func (m *Model) Double(ctx context.Context, opts ...serverfn.CallOption) error {
	return serverfn.Resolve(ctx, m.Count, func(ctx context.Context, n int) (int, error) {
		return Double.Call(ctx, m.client, n, opts...)
	})
}
