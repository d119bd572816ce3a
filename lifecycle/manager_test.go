// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package lifecycle

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/z5labs/spanbridge/export"
	"github.com/z5labs/spanbridge/internal/otlpjson"
	"github.com/z5labs/spanbridge/layer"
	"github.com/z5labs/spanbridge/scope"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

// syncBuffer is written from the batch worker and read from the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) spans(t *testing.T) int {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		data, err := otlpjson.Unmarshal(sc.Bytes())
		require.NoError(t, err)
		total += otlpjson.SpanCount(data)
	}
	return total
}

// blockingWriter never completes a write until released.
type blockingWriter struct {
	release chan struct{}
}

func (w blockingWriter) Write(p []byte) (int, error) {
	<-w.release
	return len(p), nil
}

func current(exp func(layer.Config) export.Config, w interface{ Write([]byte) (int, error) }) scope.Config {
	return scope.Current{
		Export: exp(layer.OtlpFile{
			Common: layer.Common{Filter: "trace"},
			Writer: w,
		}),
	}
}

func simple(l layer.Config) export.Config { return export.Simple{Layer: l} }

func batch(l layer.Config) export.Config { return export.Batch{Layer: l} }

func endSpans(ctx context.Context, n int) {
	tracer := scope.Tracer(ctx, "lifecycle_test")
	for i := 0; i < n; i++ {
		_, span := tracer.Start(ctx, "op")
		span.End()
	}
}

func TestManager(t *testing.T) {
	nop := WithLogger(zap.NewNop())

	t.Run("will reach Stopped after a clean flush", func(t *testing.T) {
		for name, exp := range map[string]func(layer.Config) export.Config{"simple": simple, "batch": batch} {
			t.Run(name, func(t *testing.T) {
				var out syncBuffer
				m := New(current(exp, &out), nop)
				require.Equal(t, Uninitialized, m.State())

				ctx, err := m.Enter(context.Background())
				require.NoError(t, err)
				require.Equal(t, Active, m.State())

				endSpans(ctx, 5)

				require.NoError(t, m.Exit(ctx, nil))
				require.Equal(t, Stopped, m.State())
				require.Equal(t, 5, out.spans(t))
			})
		}
	})

	t.Run("will reach Failed without hanging when the flush exceeds the budget", func(t *testing.T) {
		w := blockingWriter{release: make(chan struct{})}
		t.Cleanup(func() { close(w.release) })

		m := New(current(batch, w), nop, WithShutdownBudget(50*time.Millisecond))
		ctx, err := m.Enter(context.Background())
		require.NoError(t, err)

		endSpans(ctx, 3)

		start := time.Now()
		err = m.Exit(ctx, nil)
		require.Less(t, time.Since(start), 2*time.Second)
		require.Equal(t, Failed, m.State())

		var serr ShutdownError
		require.ErrorAs(t, err, &serr)
		require.Equal(t, 50*time.Millisecond, serr.Budget)

		var berr BudgetExceededError
		require.ErrorAs(t, err, &berr)
	})

	t.Run("will keep the body error when shutdown also fails", func(t *testing.T) {
		w := blockingWriter{release: make(chan struct{})}
		t.Cleanup(func() { close(w.release) })

		bodyErr := errors.New("body failed")
		m := New(current(batch, w), nop, WithShutdownBudget(20*time.Millisecond))

		err := m.Run(context.Background(), func(ctx context.Context) error {
			endSpans(ctx, 1)
			return bodyErr
		})

		require.ErrorIs(t, err, bodyErr)
		var serr ShutdownError
		require.ErrorAs(t, err, &serr)
		require.Equal(t, Failed, m.State())
	})

	t.Run("will report spans the exporter rejected during the final flush", func(t *testing.T) {
		m := New(current(batch, failingWriter{}), nop)
		ctx, err := m.Enter(context.Background())
		require.NoError(t, err)

		endSpans(ctx, 2)

		err = m.Exit(ctx, nil)
		var perr export.PartialFlushError
		require.ErrorAs(t, err, &perr)
		require.Equal(t, int64(2), perr.Failed)
		require.Equal(t, Failed, m.State())
	})

	t.Run("will reject re-entry after a terminal state", func(t *testing.T) {
		var out syncBuffer
		m := New(current(simple, &out), nop)
		require.NoError(t, m.Run(context.Background(), func(context.Context) error { return nil }))
		require.Equal(t, Stopped, m.State())

		_, err := m.Enter(context.Background())

		var uerr UsageError
		require.ErrorAs(t, err, &uerr)
		require.Equal(t, "enter", uerr.Op)
		require.Equal(t, Stopped, uerr.State)
		require.Equal(t, Stopped, m.State())
	})

	t.Run("will reject entering an active manager", func(t *testing.T) {
		var out syncBuffer
		m := New(current(simple, &out), nop)
		ctx, err := m.Enter(context.Background())
		require.NoError(t, err)

		_, err = m.Enter(ctx)
		var uerr UsageError
		require.ErrorAs(t, err, &uerr)
		require.Equal(t, Active, uerr.State)

		require.NoError(t, m.Exit(ctx, nil))
	})

	t.Run("will reject exit before enter and keep the body error", func(t *testing.T) {
		bodyErr := errors.New("body failed")
		m := New(current(simple, &syncBuffer{}), nop)

		err := m.Exit(context.Background(), bodyErr)

		require.ErrorIs(t, err, bodyErr)
		var uerr UsageError
		require.ErrorAs(t, err, &uerr)
		require.Equal(t, "exit", uerr.Op)
		require.Equal(t, Uninitialized, m.State())
	})

	t.Run("will fail to start on an invalid layer and stay failed", func(t *testing.T) {
		m := New(scope.Current{Export: export.Simple{
			Layer: layer.File{Common: layer.Common{Filter: "db=loud"}},
		}}, nop)

		_, err := m.Enter(context.Background())
		var serr StartError
		require.ErrorAs(t, err, &serr)
		require.Equal(t, Failed, m.State())

		_, err = m.Enter(context.Background())
		var uerr UsageError
		require.ErrorAs(t, err, &uerr)
		require.Equal(t, Failed, uerr.State)
	})

	t.Run("will fail to start a nested current scope", func(t *testing.T) {
		outer := New(current(simple, &syncBuffer{}), nop)
		ctx, err := outer.Enter(context.Background())
		require.NoError(t, err)

		inner := New(current(simple, &syncBuffer{}), nop)
		_, err = inner.Enter(ctx)
		require.ErrorIs(t, err, scope.ErrNestedScope)
		require.Equal(t, Failed, inner.State())

		require.NoError(t, outer.Exit(ctx, nil))
	})

	t.Run("will propagate a panic after shutting down", func(t *testing.T) {
		var out syncBuffer
		m := New(current(simple, &out), nop)

		require.PanicsWithValue(t, "boom", func() {
			_ = m.Run(context.Background(), func(ctx context.Context) error {
				endSpans(ctx, 1)
				panic("boom")
			})
		})
		require.Equal(t, Stopped, m.State())
		require.Equal(t, 1, out.spans(t))
	})

	t.Run("will run hooks", func(t *testing.T) {
		var calls []string
		m := New(
			current(simple, &syncBuffer{}),
			nop,
			OnActive(HookFunc(func(context.Context) error {
				calls = append(calls, "active")
				return nil
			})),
			OnStopped(HookFunc(func(context.Context) error {
				calls = append(calls, "stopped")
				return nil
			})),
		)

		err := m.Run(context.Background(), func(context.Context) error {
			calls = append(calls, "body")
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, []string{"active", "body", "stopped"}, calls)
	})

	t.Run("will fail to start if an active hook fails", func(t *testing.T) {
		hookErr := errors.New("hook failed")
		m := New(current(simple, &syncBuffer{}), nop, OnActive(HookFunc(func(context.Context) error {
			return hookErr
		})))

		_, err := m.Enter(context.Background())
		require.ErrorIs(t, err, hookErr)
		require.Equal(t, Failed, m.State())
	})

	t.Run("will bound the shutdown of a pipeline whose active hook failed", func(t *testing.T) {
		w := blockingWriter{release: make(chan struct{})}
		t.Cleanup(func() { close(w.release) })

		hookErr := errors.New("hook failed")
		m := New(
			current(batch, w),
			nop,
			WithShutdownBudget(50*time.Millisecond),
			OnActive(HookFunc(func(ctx context.Context) error {
				endSpans(ctx, 1)
				return hookErr
			})),
		)

		start := time.Now()
		_, err := m.Enter(context.Background())
		require.Less(t, time.Since(start), 2*time.Second)

		require.ErrorIs(t, err, hookErr)
		var berr BudgetExceededError
		require.ErrorAs(t, err, &berr)
		require.Equal(t, Failed, m.State())
	})

	t.Run("will shut down cleanly when exiting with a cancelled context", func(t *testing.T) {
		var out syncBuffer
		m := New(current(simple, &out), nop)

		ctx, err := m.Enter(context.Background())
		require.NoError(t, err)
		endSpans(ctx, 2)

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		require.NoError(t, m.Exit(cctx, nil))
		require.Equal(t, Stopped, m.State())
		require.Equal(t, 2, out.spans(t))
	})

	t.Run("will only report healthy while active", func(t *testing.T) {
		var out syncBuffer
		m := New(current(batch, &out), nop)
		require.False(t, m.Healthy(context.Background()))

		ctx, err := m.Enter(context.Background())
		require.NoError(t, err)
		require.True(t, m.Healthy(ctx))

		require.NoError(t, m.Exit(ctx, nil))
		require.False(t, m.Healthy(ctx))
	})

	t.Run("will log state transitions", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		m := New(current(simple, &syncBuffer{}), WithLogger(zap.New(core)))

		require.NoError(t, m.Run(context.Background(), func(context.Context) error { return nil }))

		var to []string
		for _, entry := range logs.FilterMessage("tracing manager state changed").All() {
			to = append(to, entry.ContextMap()["to"].(string))
		}
		require.Equal(t, []string{"activating", "active", "shutting_down", "stopped"}, to)
	})
}

func TestManager_Global(t *testing.T) {
	nop := WithLogger(zap.NewNop())

	t.Run("will leave nothing installed if an active hook fails", func(t *testing.T) {
		var aborted syncBuffer
		hookErr := errors.New("hook failed")
		m := New(
			scope.Global{Export: simple(layer.OtlpFile{Common: layer.Common{Filter: "trace"}, Writer: &aborted})},
			nop,
			OnActive(HookFunc(func(ctx context.Context) error {
				_, scoped := scope.TracerProvider(ctx).(*sdktrace.TracerProvider)
				require.True(t, scoped)
				_, published := otel.GetTracerProvider().(*sdktrace.TracerProvider)
				require.False(t, published)
				endSpans(ctx, 1)
				return hookErr
			})),
		)

		_, err := m.Enter(context.Background())
		require.ErrorIs(t, err, hookErr)
		require.Equal(t, Failed, m.State())
		require.Equal(t, 1, aborted.spans(t))

		require.False(t, scope.GlobalInstalled())
		_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
		require.False(t, isSDK)
	})

	var first, second syncBuffer
	m1 := New(scope.Global{Export: simple(layer.OtlpFile{Common: layer.Common{Filter: "trace"}, Writer: &first})}, nop)
	ctx, err := m1.Enter(context.Background())
	require.NoError(t, err)

	m2 := New(scope.Global{Export: simple(layer.OtlpFile{Common: layer.Common{Filter: "trace"}, Writer: &second})}, nop)
	_, err = m2.Enter(context.Background())

	var serr StartError
	require.ErrorAs(t, err, &serr)
	require.ErrorIs(t, err, scope.ErrAlreadyInitialized)
	require.Equal(t, Failed, m2.State())

	endSpans(ctx, 3)

	require.NoError(t, m1.Exit(ctx, nil))
	require.Equal(t, 3, first.spans(t))
	require.Zero(t, second.spans(t))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestState_String(t *testing.T) {
	require.Equal(t, "shutting_down", ShuttingDown.String())
	require.Equal(t, "unknown", State(42).String())
	require.True(t, Failed.Terminal())
	require.False(t, Active.Terminal())
}

func TestMultiHook(t *testing.T) {
	t.Run("will run every hook and join their errors", func(t *testing.T) {
		oneErr := errors.New("one")
		twoErr := errors.New("two")
		ran := 0

		h := MultiHook(
			HookFunc(func(context.Context) error { ran++; return oneErr }),
			HookFunc(func(context.Context) error { ran++; return nil }),
			HookFunc(func(context.Context) error { ran++; return twoErr }),
		)

		err := h.Run(context.Background())
		require.Equal(t, 3, ran)
		require.ErrorIs(t, err, oneErr)
		require.ErrorIs(t, err, twoErr)
	})

	t.Run("will return nil when no hook fails", func(t *testing.T) {
		require.NoError(t, MultiHook().Run(context.Background()))
	})
}
