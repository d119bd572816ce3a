// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otlpjson

import (
	"bufio"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

func TestExporter(t *testing.T) {
	t.Run("will write one document per export", func(t *testing.T) {
		var buf bytes.Buffer
		exp := NewExporter(&buf)

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSyncer(exp),
			sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "svc"))),
		)

		ctx, parent := tp.Tracer("scope-a").Start(context.Background(), "parent")
		_, child := tp.Tracer("scope-b").Start(ctx, "child", trace.WithAttributes(
			attribute.StringSlice("tags", []string{"x", "y"}),
			attribute.Int("n", 7),
		))
		child.SetStatus(codes.Error, "boom")
		child.AddEvent("evt", trace.WithAttributes(attribute.Bool("ok", true)))
		child.End()
		parent.End()

		require.NoError(t, tp.Shutdown(context.Background()))

		var docs []*tracepb.TracesData
		sc := bufio.NewScanner(&buf)
		for sc.Scan() {
			data, err := Unmarshal(sc.Bytes())
			require.NoError(t, err)
			docs = append(docs, data)
		}
		require.Len(t, docs, 2)

		childDoc := docs[0]
		require.Equal(t, 1, SpanCount(childDoc))
		rs := childDoc.GetResourceSpans()[0]
		require.Equal(t, "service.name", rs.GetResource().GetAttributes()[0].GetKey())
		ss := rs.GetScopeSpans()[0]
		require.Equal(t, "scope-b", ss.GetScope().GetName())

		span := ss.GetSpans()[0]
		require.Equal(t, "child", span.GetName())
		require.Equal(t, tracepb.Status_STATUS_CODE_ERROR, span.GetStatus().GetCode())
		require.Equal(t, "boom", span.GetStatus().GetMessage())
		require.Len(t, span.GetEvents(), 1)
		require.Len(t, span.GetAttributes(), 2)

		parentSpan := docs[1].GetResourceSpans()[0].GetScopeSpans()[0].GetSpans()[0]
		require.Equal(t, parentSpan.GetSpanId(), span.GetParentSpanId())
		require.Equal(t, parentSpan.GetTraceId(), span.GetTraceId())
		require.Empty(t, parentSpan.GetParentSpanId())
	})

	t.Run("will reject exports after shutdown", func(t *testing.T) {
		var buf bytes.Buffer
		exp := NewExporter(&buf)
		require.NoError(t, exp.Shutdown(context.Background()))

		tp := sdktrace.NewTracerProvider()
		_, span := tp.Tracer("x").Start(context.Background(), "s")
		span.End()
		ro, ok := span.(sdktrace.ReadOnlySpan)
		require.True(t, ok)

		err := exp.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{ro})
		require.ErrorIs(t, err, ErrExporterShutdown)
		require.Zero(t, buf.Len())
	})
}

func TestTransform(t *testing.T) {
	t.Run("will group spans by scope", func(t *testing.T) {
		exp := &collector{}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		for _, name := range []string{"a", "b", "a"} {
			_, span := tp.Tracer(name).Start(context.Background(), "op")
			span.End()
		}

		data := Transform(exp.spans)
		require.Len(t, data.GetResourceSpans(), 1)
		require.Len(t, data.GetResourceSpans()[0].GetScopeSpans(), 2)
		require.Equal(t, 3, SpanCount(data))
	})
}

type collector struct {
	spans []sdktrace.ReadOnlySpan
}

func (c *collector) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	c.spans = append(c.spans, spans...)
	return nil
}

func (c *collector) Shutdown(context.Context) error {
	return nil
}
