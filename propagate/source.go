// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package propagate

import (
	"context"
	"os"

	"go.opentelemetry.io/otel/propagation"
)

const (
	TraceparentKey = "traceparent"
	TracestateKey  = "tracestate"

	// https://github.com/open-telemetry/opentelemetry-specification/blob/main/specification/context/env-carriers.md

	TraceparentEnv = "TRACEPARENT"
	TracestateEnv  = "TRACESTATE"
)

// Source exposes the caller's ambient trace context by writing it, in
// W3C trace-context form, into a carrier.
type Source interface {
	Inject(ctx context.Context, carrier propagation.TextMapCarrier) error
}

// SourceFunc is a func type which implements [Source].
type SourceFunc func(context.Context, propagation.TextMapCarrier) error

// Inject implements the [Source] interface.
func (f SourceFunc) Inject(ctx context.Context, carrier propagation.TextMapCarrier) error {
	return f(ctx, carrier)
}

// ContextSource reads the span active in ctx.
func ContextSource() Source {
	return SourceFunc(func(ctx context.Context, carrier propagation.TextMapCarrier) error {
		propagation.TraceContext{}.Inject(ctx, carrier)
		return nil
	})
}

// EnvSource reads TRACEPARENT and TRACESTATE from the process environment.
func EnvSource() Source {
	return SourceFunc(func(_ context.Context, carrier propagation.TextMapCarrier) error {
		if v := os.Getenv(TraceparentEnv); v != "" {
			carrier.Set(TraceparentKey, v)
		}
		if v := os.Getenv(TracestateEnv); v != "" {
			carrier.Set(TracestateKey, v)
		}
		return nil
	})
}

// CarrierSource reads the traceparent and tracestate entries of c. Key
// lookup is left to the carrier, so an [propagation.HeaderCarrier] matches
// regardless of case.
func CarrierSource(c propagation.TextMapCarrier) Source {
	return SourceFunc(func(_ context.Context, carrier propagation.TextMapCarrier) error {
		for _, key := range []string{TraceparentKey, TracestateKey} {
			if v := c.Get(key); v != "" {
				carrier.Set(key, v)
			}
		}
		return nil
	})
}

// Inject writes the span context active in ctx into carrier. It is the
// outbound counterpart of [Capture], used to hand context to child processes.
func Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	propagation.TraceContext{}.Inject(ctx, carrier)
}
