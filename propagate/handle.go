// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package propagate

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/z5labs/spanbridge/internal/try"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Reason classifies why a trace context could not be captured.
type Reason string

const (
	ReasonNoContext    Reason = "no_context"
	ReasonMalformed    Reason = "malformed_context"
	ReasonSourceFailed Reason = "source_failed"
)

// ErrInvalidTraceparent is the cause of a [ReasonMalformed] failure.
var ErrInvalidTraceparent = errors.New("invalid traceparent")

// ExtractError is returned by [Capture]. It is never fatal to a call.
type ExtractError struct {
	Reason Reason
	Cause  error
}

// Error implements the [builtin.error] interface.
func (e ExtractError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("failed to capture trace context: %s", e.Reason)
	}
	return fmt.Sprintf("failed to capture trace context: %s: %s", e.Reason, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ExtractError) Unwrap() error {
	return e.Cause
}

// Handle is a trace context captured at one point in time.
type Handle struct {
	sc      trace.SpanContext
	carrier propagation.MapCarrier
}

// Capture asks src for its ambient trace context.
func Capture(ctx context.Context, src Source) (Handle, error) {
	if src == nil {
		return Handle{}, ExtractError{Reason: ReasonNoContext}
	}

	carrier := propagation.MapCarrier{}
	err := try.Call(func() error {
		return src.Inject(ctx, carrier)
	})
	if err != nil {
		return Handle{}, ExtractError{Reason: ReasonSourceFailed, Cause: err}
	}

	raw := carrier.Get(TraceparentKey)
	if raw == "" {
		return Handle{}, ExtractError{Reason: ReasonNoContext}
	}

	sc := trace.SpanContextFromContext(propagation.TraceContext{}.Extract(context.Background(), carrier))
	if !sc.IsValid() {
		return Handle{}, ExtractError{
			Reason: ReasonMalformed,
			Cause:  fmt.Errorf("%w: %q", ErrInvalidTraceparent, raw),
		}
	}
	return Handle{sc: sc, carrier: carrier}, nil
}

// IsZero reports whether h was never captured.
func (h Handle) IsZero() bool {
	return !h.sc.IsValid()
}

// SpanContext returns the captured context, marked as remote.
func (h Handle) SpanContext() trace.SpanContext {
	return h.sc
}

func (h Handle) TraceID() trace.TraceID {
	return h.sc.TraceID()
}

func (h Handle) SpanID() trace.SpanID {
	return h.sc.SpanID()
}

func (h Handle) Flags() trace.TraceFlags {
	return h.sc.TraceFlags()
}

func (h Handle) TraceState() trace.TraceState {
	return h.sc.TraceState()
}

// Carrier returns a copy of the raw entries the source produced.
func (h Handle) Carrier() map[string]string {
	return maps.Clone(map[string]string(h.carrier))
}
