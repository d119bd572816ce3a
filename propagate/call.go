// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package propagate

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/z5labs/spanbridge/internal/try"
	"github.com/z5labs/spanbridge/scope"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/z5labs/spanbridge/propagate"

// FailurePolicy decides how a failed capture is reported. A failed
// capture never fails the call.
type FailurePolicy int

const (
	// LogFailures reports through the configured zap logger.
	LogFailures FailurePolicy = iota
	// PrintFailures writes one line to stderr.
	PrintFailures
	IgnoreFailures
)

type options struct {
	log      *zap.Logger
	policy   FailurePolicy
	out      io.Writer
	provider trace.TracerProvider
	spanOpts []trace.SpanStartOption
}

// Option configures [Call], [Wrap], [Propagating] and [Span].
type Option func(*options)

// WithLogger sets the logger used by [LogFailures].
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// OnFailure sets the failure policy. The default is [LogFailures].
func OnFailure(p FailurePolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithOutput redirects [PrintFailures] output.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.out = w
	}
}

// WithTracerProvider sets the provider [Span] starts spans from. By
// default the tracer is [scope.Tracer] of the call's context.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.provider = tp
	}
}

// WithSpanOptions are passed to the span started by [Span].
func WithSpanOptions(opts ...trace.SpanStartOption) Option {
	return func(o *options) {
		o.spanOpts = append(o.spanOpts, opts...)
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		log: zap.L(),
		out: os.Stderr,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) report(err error) {
	switch o.policy {
	case LogFailures:
		o.log.Warn("proceeding without a parent trace context", zap.Error(err))
	case PrintFailures:
		fmt.Fprintf(o.out, "spanbridge: proceeding without a parent trace context: %s\n", err)
	}
}

func (o *options) attach(ctx context.Context, src Source) (context.Context, *Guard) {
	h, err := Capture(ctx, src)
	if err != nil {
		o.report(err)
		return ctx, &Guard{prev: ctx}
	}
	return Attach(ctx, h)
}

// Call runs fn with src's trace context as the parent of any span fn
// starts. The attach is released on every exit path, including a panic,
// which keeps propagating.
func Call(ctx context.Context, src Source, fn func(context.Context) error, opts ...Option) error {
	o := newOptions(opts)
	ctx, g := o.attach(ctx, src)
	defer g.Release()
	return fn(ctx)
}

// Wrap is [Call] for functions returning a value.
func Wrap[T any](ctx context.Context, src Source, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	var v T
	err := Call(ctx, src, func(ctx context.Context) error {
		var err error
		v, err = fn(ctx)
		return err
	}, opts...)
	return v, err
}

// Propagating marks fn as context propagating: every invocation of the
// returned func is a [Call] with src.
func Propagating(src Source, fn func(context.Context) error, opts ...Option) func(context.Context) error {
	return func(ctx context.Context) error {
		return Call(ctx, src, fn, opts...)
	}
}

// Span is [Call] with fn enclosed in a span named name. The span records
// fn's error or panic before it is ended.
func Span(ctx context.Context, src Source, name string, fn func(context.Context) error, opts ...Option) error {
	o := newOptions(opts)
	ctx, g := o.attach(ctx, src)
	defer g.Release()

	var tracer trace.Tracer
	if o.provider != nil {
		tracer = o.provider.Tracer(instrumentationName)
	} else {
		tracer = scope.Tracer(ctx, instrumentationName)
	}
	ctx, span := tracer.Start(ctx, name, o.spanOpts...)

	err := try.Call(func() error {
		return fn(ctx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	try.Repanic(err)
	return err
}
