// Copyright 2023 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing wraps Transport.Perform and each of its attempts in
// OpenTelemetry spans. It adds no behavior beyond span bookkeeping: with
// a nil tracer, every function here is a no-op (P10).
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartRequest starts the span covering one Transport.Perform call. If
// tracer is nil, it returns ctx unchanged and a no-op end function.
func StartRequest(ctx context.Context, tracer trace.Tracer, name, method, path string) (context.Context, func(err error)) {
	if tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := tracer.Start(ctx, "estransport.request",
		trace.WithAttributes(
			attribute.String("estransport.name", name),
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// StartAttempt starts a child span covering one attempt (one HTTP
// exchange) within a request. If tracer is nil, it returns ctx
// unchanged and a no-op end function.
func StartAttempt(ctx context.Context, tracer trace.Tracer, attempt int, endpoint string) (context.Context, func(statusCode int, err error)) {
	if tracer == nil {
		return ctx, func(int, error) {}
	}
	ctx, span := tracer.Start(ctx, "estransport.attempt",
		trace.WithAttributes(
			attribute.Int("estransport.attempt", attempt),
			attribute.String("estransport.endpoint", endpoint),
		),
	)
	return ctx, func(statusCode int, err error) {
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
