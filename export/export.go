// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package export runs an assembled subscriber under a batching discipline.
package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/z5labs/spanbridge/health"
	"github.com/z5labs/spanbridge/layer"
	"github.com/z5labs/spanbridge/subscriber"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config is a closed set of export disciplines: [Batch] and [Simple].
type Config interface {
	// LayerConfig returns the layer to export to, defaulting to [layer.File].
	LayerConfig() layer.Config

	isExport()
}

// Batch queues finished spans and exports them in bulk from a background
// worker. Queued spans are flushed on shutdown.
type Batch struct {
	Layer layer.Config
}

func (Batch) isExport() {}

// LayerConfig implements the [Config] interface.
func (b Batch) LayerConfig() layer.Config {
	return orDefault(b.Layer)
}

// Simple exports every span synchronously as it ends.
type Simple struct {
	Layer layer.Config
}

func (Simple) isExport() {}

// LayerConfig implements the [Config] interface.
func (s Simple) LayerConfig() layer.Config {
	return orDefault(s.Layer)
}

func orDefault(l layer.Config) layer.Config {
	if l == nil {
		return layer.File{}
	}
	return l
}

// Default is the discipline used when none is given.
func Default() Config {
	return Batch{}
}

// Option configures [Start].
type Option func(*options)

type options struct {
	log *zap.Logger
	reg prometheus.Registerer
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithRegisterer registers the export counters with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.reg = reg
	}
}

// ErrUnknownDiscipline is returned for a nil or foreign [Config].
var ErrUnknownDiscipline = errors.New("unknown export discipline")

// StartError wraps any failure to bring a [Process] up.
type StartError struct {
	Discipline string
	Cause      error
}

// Error implements the [builtin.error] interface.
func (e StartError) Error() string {
	return fmt.Sprintf("failed to start %s export process: %s", e.Discipline, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e StartError) Unwrap() error {
	return e.Cause
}

// PartialFlushError reports spans the exporter rejected while shutting down.
type PartialFlushError struct {
	Failed int64
}

// Error implements the [builtin.error] interface.
func (e PartialFlushError) Error() string {
	return fmt.Sprintf("exporter failed %d span(s) during final flush", e.Failed)
}

// BackgroundError reports a background task that ended on its own.
type BackgroundError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e BackgroundError) Error() string {
	return fmt.Sprintf("background export task terminated abnormally: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e BackgroundError) Unwrap() error {
	return e.Cause
}

const (
	disciplineBatch  = "batch"
	disciplineSimple = "simple"
)

// Process is a running export pipeline.
type Process struct {
	discipline string
	sub        *subscriber.Subscriber
	exporter   *instrumentedExporter
	provider   *sdktrace.TracerProvider
	exec       *executor
	log        *zap.Logger

	running      health.Binary
	shutdownOnce sync.Once
	shutdownErr  error
}

// Start assembles cfg's layer and starts it under cfg's discipline. For
// [Batch] it returns only after the batch worker has completed a flush.
func Start(ctx context.Context, cfg Config, opts ...Option) (*Process, error) {
	o := &options{log: zap.L()}
	for _, opt := range opts {
		opt(o)
	}
	if o.reg == nil {
		o.reg = prometheus.NewRegistry()
	}

	var discipline string
	switch cfg.(type) {
	case Batch:
		discipline = disciplineBatch
	case Simple:
		discipline = disciplineSimple
	default:
		return nil, StartError{Discipline: fmt.Sprintf("%T", cfg), Cause: ErrUnknownDiscipline}
	}
	log := o.log.With(zap.String("discipline", discipline))

	sub, err := subscriber.Build(ctx, cfg.LayerConfig(), subscriber.WithLogger(log))
	if err != nil {
		return nil, StartError{Discipline: discipline, Cause: err}
	}

	ie := newInstrumentedExporter(sub.Exporter(), newMetrics(o.reg, sub.Kind(), discipline))

	var sp sdktrace.SpanProcessor
	switch discipline {
	case disciplineBatch:
		sp = sdktrace.NewBatchSpanProcessor(ie)
	default:
		sp = sdktrace.NewSimpleSpanProcessor(ie)
	}

	popts := append(sub.ProviderOptions(), sdktrace.WithSpanProcessor(sub.Filter().Processor(sp)))
	p := &Process{
		discipline: discipline,
		sub:        sub,
		exporter:   ie,
		provider:   sdktrace.NewTracerProvider(popts...),
		log:        log,
	}

	if discipline == disciplineBatch || sub.RequiresBackground() {
		p.exec = startExecutor(sub.Background(), log)
	}

	if discipline == disciplineBatch {
		// A flush round trips through the batch worker, proving it runs.
		err = p.provider.ForceFlush(ctx)
		if err != nil {
			_ = p.Shutdown(context.Background())
			return nil, StartError{Discipline: discipline, Cause: err}
		}
	}

	log.Info("started export process",
		zap.String("layer", sub.Kind()),
		zap.Bool("background", p.exec != nil),
	)
	return p, nil
}

// TracerProvider returns the provider spans should be created from.
func (p *Process) TracerProvider() *sdktrace.TracerProvider {
	return p.provider
}

// Tracer returns a tracer from the process's provider. When the layer
// configures an instrumentation scope it replaces name and any version or
// schema url given in opts.
func (p *Process) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	is := p.sub.InstrumentationScope()
	if is.IsZero() {
		return p.provider.Tracer(name, opts...)
	}
	opts = append(opts,
		trace.WithInstrumentationVersion(is.Version),
		trace.WithSchemaURL(is.SchemaURL),
	)
	return p.provider.Tracer(is.Name, opts...)
}

// Discipline returns "batch" or "simple".
func (p *Process) Discipline() string {
	return p.discipline
}

// RunsBackground reports whether the process owns a background executor.
func (p *Process) RunsBackground() bool {
	return p.exec != nil
}

// Health reports whether spans created now can be expected to reach the
// layer. It turns unhealthy once shutdown begins.
func (p *Process) Health() health.Metric {
	metrics := []health.Metric{&p.running, p.sub.Health()}
	if p.exec != nil {
		metrics = append(metrics, &p.exec.health)
	}
	return health.And(metrics...)
}

// ShutdownBudget returns the layer's preferred bound on shutdown, or zero.
func (p *Process) ShutdownBudget() time.Duration {
	return p.sub.ShutdownBudget()
}

// Shutdown flushes queued spans, stops the background executor and
// releases the subscriber. It honours ctx's deadline, and only the first
// call does any work.
func (p *Process) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown(ctx)
	})
	return p.shutdownErr
}

func (p *Process) shutdown(ctx context.Context) error {
	p.running.Set(false)
	p.exporter.beginShutdown()

	var errs []error
	err := p.provider.Shutdown(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	if p.exec != nil {
		err = p.exec.stop(ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if n := p.exporter.failedDuringShutdown(); n > 0 {
		errs = append(errs, PartialFlushError{Failed: n})
	}
	err = p.sub.Close()
	if err != nil {
		errs = append(errs, err)
	}

	p.log.Info("stopped export process",
		zap.Int64("exported", p.exporter.exported.Load()),
		zap.Int64("failed", p.exporter.failed.Load()),
		zap.Bool("clean", len(errs) == 0),
	)
	return errors.Join(errs...)
}
