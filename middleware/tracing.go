// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/luxfi/serverfn"
)

// tracerName is the instrumentation scope name for serverfn tracing.
const tracerName = "github.com/luxfi/serverfn"

// Tracing wraps each call in a span from the global TracerProvider.
func Tracing() serverfn.Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer wraps each call in a "serverfn.call" span from tracer.
func TracingWithTracer(tracer trace.Tracer) serverfn.Middleware {
	return func(ctx context.Context, call *serverfn.Call, next serverfn.Next) (interface{}, error) {
		ctx, span := tracer.Start(ctx, "serverfn.call",
			trace.WithAttributes(
				attribute.String("serverfn.function", call.Function.String()),
				attribute.String("serverfn.call_id", call.CallID),
				attribute.String("serverfn.encoding", call.Encoding),
			),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		result, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return result, err
	}
}
