// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package propagate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const (
	parentA = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	parentB = "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-00"
)

func carrier(traceparent string) Source {
	return CarrierSource(propagation.MapCarrier{TraceparentKey: traceparent})
}

func mustCapture(t *testing.T, traceparent string) Handle {
	t.Helper()
	h, err := Capture(context.Background(), carrier(traceparent))
	require.NoError(t, err)
	return h
}

func quiet() Option {
	return WithLogger(zap.NewNop())
}

func TestCapture(t *testing.T) {
	t.Run("will capture a well formed traceparent", func(t *testing.T) {
		src := CarrierSource(propagation.MapCarrier{
			TraceparentKey: parentA,
			TracestateKey:  "congo=t61rcWkgMzE",
		})

		h, err := Capture(context.Background(), src)
		require.NoError(t, err)
		require.False(t, h.IsZero())
		require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", h.TraceID().String())
		require.Equal(t, "00f067aa0ba902b7", h.SpanID().String())
		require.True(t, h.Flags().IsSampled())
		require.Equal(t, "t61rcWkgMzE", h.TraceState().Get("congo"))
		require.True(t, h.SpanContext().IsRemote())
	})

	t.Run("will not let callers mutate the captured carrier", func(t *testing.T) {
		h := mustCapture(t, parentA)

		c := h.Carrier()
		c[TraceparentKey] = parentB

		require.Equal(t, parentA, h.Carrier()[TraceparentKey])
	})

	t.Run("will match header carriers regardless of case", func(t *testing.T) {
		hdr := http.Header{}
		hdr.Set("Traceparent", parentA)

		h, err := Capture(context.Background(), CarrierSource(propagation.HeaderCarrier(hdr)))
		require.NoError(t, err)
		require.Equal(t, "00f067aa0ba902b7", h.SpanID().String())
	})

	t.Run("will capture the span active in the context", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		ctx, span := tp.Tracer("test").Start(context.Background(), "host")
		defer span.End()

		h, err := Capture(ctx, ContextSource())
		require.NoError(t, err)
		require.Equal(t, span.SpanContext().TraceID(), h.TraceID())
		require.Equal(t, span.SpanContext().SpanID(), h.SpanID())
	})

	t.Run("will capture from the environment", func(t *testing.T) {
		t.Setenv(TraceparentEnv, parentB)
		t.Setenv(TracestateEnv, "rojo=00f067aa0ba902b7")

		h, err := Capture(context.Background(), EnvSource())
		require.NoError(t, err)
		require.Equal(t, "0af7651916cd43dd8448eb211c80319c", h.TraceID().String())
		require.False(t, h.Flags().IsSampled())
		require.Equal(t, "00f067aa0ba902b7", h.TraceState().Get("rojo"))
	})

	testCases := []struct {
		Name   string
		Source Source
		Reason Reason
	}{
		{
			Name:   "nil source",
			Source: nil,
			Reason: ReasonNoContext,
		},
		{
			Name:   "empty carrier",
			Source: CarrierSource(propagation.MapCarrier{}),
			Reason: ReasonNoContext,
		},
		{
			Name:   "no active span",
			Source: ContextSource(),
			Reason: ReasonNoContext,
		},
		{
			Name:   "garbage traceparent",
			Source: carrier("not-a-traceparent"),
			Reason: ReasonMalformed,
		},
		{
			Name:   "all zero trace id",
			Source: carrier("00-00000000000000000000000000000000-00f067aa0ba902b7-01"),
			Reason: ReasonMalformed,
		},
		{
			Name: "failing source",
			Source: SourceFunc(func(context.Context, propagation.TextMapCarrier) error {
				return errors.New("host tracing not initialized")
			}),
			Reason: ReasonSourceFailed,
		},
		{
			Name: "panicking source",
			Source: SourceFunc(func(context.Context, propagation.TextMapCarrier) error {
				panic("host tracing exploded")
			}),
			Reason: ReasonSourceFailed,
		},
	}

	for _, testCase := range testCases {
		t.Run("will fail with "+string(testCase.Reason)+" if given a "+testCase.Name, func(t *testing.T) {
			h, err := Capture(context.Background(), testCase.Source)

			var eerr ExtractError
			require.ErrorAs(t, err, &eerr)
			require.Equal(t, testCase.Reason, eerr.Reason)
			require.True(t, h.IsZero())
		})
	}

	t.Run("will wrap ErrInvalidTraceparent for malformed input", func(t *testing.T) {
		_, err := Capture(context.Background(), carrier("00-xyz"))
		require.ErrorIs(t, err, ErrInvalidTraceparent)
	})
}

func TestAttach(t *testing.T) {
	t.Run("will parent new spans on the attached context", func(t *testing.T) {
		h := mustCapture(t, parentA)

		ctx, g := Attach(context.Background(), h)
		defer g.Release()

		require.Equal(t, h.SpanContext(), trace.SpanContextFromContext(ctx))
		cur, ok := Current(ctx)
		require.True(t, ok)
		require.Equal(t, h, cur)
		require.Equal(t, 1, Depth(ctx))
	})

	t.Run("will restore the previous context on release", func(t *testing.T) {
		a := mustCapture(t, parentA)
		b := mustCapture(t, parentB)

		ctxA, ga := Attach(context.Background(), a)
		ctxB, gb := Attach(ctxA, b)
		require.Equal(t, 2, Depth(ctxB))

		restored := gb.Release()
		require.Equal(t, ctxA, restored)
		require.Equal(t, a.SpanContext(), trace.SpanContextFromContext(restored))
		require.Equal(t, 1, Depth(restored))

		root := ga.Release()
		require.Zero(t, Depth(root))
		_, ok := Current(root)
		require.False(t, ok)
	})

	t.Run("will allow releasing more than once", func(t *testing.T) {
		ctx := context.Background()
		_, g := Attach(ctx, mustCapture(t, parentA))

		require.False(t, g.Released())
		require.Equal(t, ctx, g.Release())
		require.Equal(t, ctx, g.Release())
		require.True(t, g.Released())
	})
}

func TestCall(t *testing.T) {
	t.Run("will restore the outer parent after a nested call returns", func(t *testing.T) {
		a := mustCapture(t, parentA)
		b := mustCapture(t, parentB)

		err := Call(context.Background(), carrier(parentA), func(ctx context.Context) error {
			require.Equal(t, a.SpanContext(), trace.SpanContextFromContext(ctx))

			err := Call(ctx, carrier(parentB), func(ctx context.Context) error {
				require.Equal(t, b.SpanContext(), trace.SpanContextFromContext(ctx))
				require.Equal(t, 2, Depth(ctx))
				return nil
			}, quiet())
			require.NoError(t, err)

			require.Equal(t, a.SpanContext(), trace.SpanContextFromContext(ctx))
			require.Equal(t, 1, Depth(ctx))
			return nil
		}, quiet())
		require.NoError(t, err)
	})

	t.Run("will isolate concurrent calls", func(t *testing.T) {
		var eg errgroup.Group
		for i := range 64 {
			traceparent := fmt.Sprintf("00-%032x-%016x-01", i+1, i+1)
			eg.Go(func() error {
				return Call(context.Background(), carrier(traceparent), func(ctx context.Context) error {
					time.Sleep(time.Millisecond)
					got := trace.SpanContextFromContext(ctx).SpanID().String()
					want := fmt.Sprintf("%016x", i+1)
					if got != want {
						return fmt.Errorf("call %d observed parent %s", i, got)
					}
					return nil
				}, quiet())
			})
		}
		require.NoError(t, eg.Wait())
	})

	t.Run("will return the error of the wrapped func", func(t *testing.T) {
		fnErr := errors.New("native failure")

		err := Call(context.Background(), carrier(parentA), func(context.Context) error {
			return fnErr
		}, quiet())
		require.ErrorIs(t, err, fnErr)
	})

	t.Run("will proceed without a parent and log once if there is no context", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		called := false

		err := Call(context.Background(), ContextSource(), func(ctx context.Context) error {
			called = true
			require.False(t, trace.SpanContextFromContext(ctx).IsValid())
			require.Zero(t, Depth(ctx))
			return nil
		}, WithLogger(zap.New(core)))

		require.NoError(t, err)
		require.True(t, called)
		require.Equal(t, 1, logs.Len())
		require.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	})

	t.Run("will print failures if asked to", func(t *testing.T) {
		var out bytes.Buffer

		err := Call(context.Background(), carrier("garbage"), func(context.Context) error {
			return nil
		}, OnFailure(PrintFailures), WithOutput(&out))

		require.NoError(t, err)
		require.Contains(t, out.String(), string(ReasonMalformed))
	})

	t.Run("will stay silent if failures are ignored", func(t *testing.T) {
		var out bytes.Buffer
		core, logs := observer.New(zapcore.DebugLevel)

		err := Call(context.Background(), nil, func(context.Context) error {
			return nil
		}, OnFailure(IgnoreFailures), WithOutput(&out), WithLogger(zap.New(core)))

		require.NoError(t, err)
		require.Zero(t, out.Len())
		require.Zero(t, logs.Len())
	})
}

func TestWrap(t *testing.T) {
	t.Run("will return the value of the wrapped func", func(t *testing.T) {
		id, err := Wrap(context.Background(), carrier(parentA), func(ctx context.Context) (string, error) {
			return trace.SpanContextFromContext(ctx).TraceID().String(), nil
		}, quiet())

		require.NoError(t, err)
		require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", id)
	})
}

func TestPropagating(t *testing.T) {
	t.Run("will attach on every invocation", func(t *testing.T) {
		var depths []int
		fn := Propagating(carrier(parentA), func(ctx context.Context) error {
			depths = append(depths, Depth(ctx))
			return nil
		}, quiet())

		require.NoError(t, fn(context.Background()))
		require.NoError(t, fn(context.Background()))
		require.Equal(t, []int{1, 1}, depths)
	})
}

func TestSpan(t *testing.T) {
	newProvider := func() (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
		rec := tracetest.NewSpanRecorder()
		return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)), rec
	}

	t.Run("will create a child of the captured context", func(t *testing.T) {
		tp, rec := newProvider()
		a := mustCapture(t, parentA)

		err := Span(context.Background(), carrier(parentA), "native_call", func(ctx context.Context) error {
			_, child := tp.Tracer("native").Start(ctx, "inner")
			child.End()
			return nil
		}, WithTracerProvider(tp), quiet())
		require.NoError(t, err)

		spans := rec.Ended()
		require.Len(t, spans, 2)

		inner, outer := spans[0], spans[1]
		require.Equal(t, "native_call", outer.Name())
		require.Equal(t, a.TraceID(), outer.SpanContext().TraceID())
		require.Equal(t, a.SpanID(), outer.Parent().SpanID())
		require.True(t, outer.Parent().IsRemote())
		require.Equal(t, outer.SpanContext().SpanID(), inner.Parent().SpanID())
	})

	t.Run("will create a root span if there is no context", func(t *testing.T) {
		tp, rec := newProvider()

		err := Span(context.Background(), ContextSource(), "native_call", func(context.Context) error {
			return nil
		}, WithTracerProvider(tp), quiet())
		require.NoError(t, err)

		spans := rec.Ended()
		require.Len(t, spans, 1)
		require.False(t, spans[0].Parent().IsValid())
	})

	t.Run("will record the error of the wrapped func", func(t *testing.T) {
		tp, rec := newProvider()
		fnErr := errors.New("native failure")

		err := Span(context.Background(), carrier(parentA), "native_call", func(context.Context) error {
			return fnErr
		}, WithTracerProvider(tp), quiet())
		require.ErrorIs(t, err, fnErr)

		spans := rec.Ended()
		require.Len(t, spans, 1)
		require.Equal(t, codes.Error, spans[0].Status().Code)
		require.Len(t, spans[0].Events(), 1)
	})

	t.Run("will end the span and keep panicking", func(t *testing.T) {
		tp, rec := newProvider()

		require.PanicsWithValue(t, "boom", func() {
			_ = Span(context.Background(), carrier(parentA), "native_call", func(context.Context) error {
				panic("boom")
			}, WithTracerProvider(tp), quiet())
		})

		spans := rec.Ended()
		require.Len(t, spans, 1)
		require.Equal(t, codes.Error, spans[0].Status().Code)
	})
}
