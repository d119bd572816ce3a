// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package export

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type metrics struct {
	exported prometheus.Counter
	failed   prometheus.Counter
	batches  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, layer, discipline string) *metrics {
	labels := prometheus.Labels{
		"layer":      layer,
		"discipline": discipline,
	}
	return &metrics{
		exported: counter(reg, prometheus.CounterOpts{
			Namespace:   "spanbridge",
			Name:        "exported_spans_total",
			Help:        "Spans handed to the exporter successfully.",
			ConstLabels: labels,
		}),
		failed: counter(reg, prometheus.CounterOpts{
			Namespace:   "spanbridge",
			Name:        "failed_spans_total",
			Help:        "Spans the exporter rejected.",
			ConstLabels: labels,
		}),
		batches: counter(reg, prometheus.CounterOpts{
			Namespace:   "spanbridge",
			Name:        "export_calls_total",
			Help:        "Calls made to the exporter.",
			ConstLabels: labels,
		}),
	}
}

// counter registers a counter, reusing one already registered under the
// same descriptor.
func counter(reg prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
			return existing
		}
	}
	return c
}

// instrumentedExporter counts what passes through it so shutdown can
// tell a clean flush from a partial one.
type instrumentedExporter struct {
	next    sdktrace.SpanExporter
	metrics *metrics

	exported     atomic.Int64
	failed       atomic.Int64
	shuttingDown atomic.Bool
	lateFailures atomic.Int64
}

func newInstrumentedExporter(next sdktrace.SpanExporter, m *metrics) *instrumentedExporter {
	return &instrumentedExporter{next: next, metrics: m}
}

func (e *instrumentedExporter) beginShutdown() {
	e.shuttingDown.Store(true)
}

func (e *instrumentedExporter) failedDuringShutdown() int64 {
	return e.lateFailures.Load()
}

// ExportSpans implements the [sdktrace.SpanExporter] interface.
func (e *instrumentedExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.metrics.batches.Inc()
	err := e.next.ExportSpans(ctx, spans)
	n := int64(len(spans))
	if err != nil {
		e.failed.Add(n)
		e.metrics.failed.Add(float64(n))
		if e.shuttingDown.Load() {
			e.lateFailures.Add(n)
		}
		return err
	}
	e.exported.Add(n)
	e.metrics.exported.Add(float64(n))
	return nil
}

// Shutdown implements the [sdktrace.SpanExporter] interface.
func (e *instrumentedExporter) Shutdown(ctx context.Context) error {
	return e.next.Shutdown(ctx)
}
