// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package subscriber assembles a layer description into a runnable exporter.
//
// Everything read from the environment is read once, inside [Build].
// The resulting [Subscriber] never consults the environment again.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/z5labs/spanbridge/filter"
	"github.com/z5labs/spanbridge/health"
	"github.com/z5labs/spanbridge/layer"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// Task is a long lived function the exporter needs running in the
// background. It must return once ctx is cancelled.
type Task func(context.Context) error

// Subscriber is an assembled exporter plus everything needed to build a
// tracer provider around it.
type Subscriber struct {
	kind       string
	exporter   sdktrace.SpanExporter
	filter     *filter.Filter
	sampler    sdktrace.Sampler
	resource   *resource.Resource
	limits     sdktrace.SpanLimits
	budget     time.Duration
	scope      layer.InstrumentationScope
	health     health.Metric
	background []Task
	closers    []io.Closer
}

// Kind names the layer variant the subscriber was built from.
func (s *Subscriber) Kind() string {
	return s.kind
}

// Exporter returns the span exporter.
func (s *Subscriber) Exporter() sdktrace.SpanExporter {
	return s.exporter
}

// Filter returns the resolved filter.
func (s *Subscriber) Filter() *filter.Filter {
	return s.filter
}

// RequiresBackground reports whether the exporter needs background tasks
// to perform its I/O, independent of batching.
func (s *Subscriber) RequiresBackground() bool {
	return len(s.background) > 0
}

// Background returns the tasks that must run while the subscriber is in use.
func (s *Subscriber) Background() []Task {
	return s.background
}

// Health reports whether the exporter can currently deliver spans. File
// based subscribers are always healthy.
func (s *Subscriber) Health() health.Metric {
	if s.health == nil {
		return health.And()
	}
	return s.health
}

// ShutdownBudget is the layer's preferred bound on the final flush. Zero
// means the layer has no preference.
func (s *Subscriber) ShutdownBudget() time.Duration {
	return s.budget
}

// InstrumentationScope is the layer's default tracer scope. The zero value
// means the layer does not name one.
func (s *Subscriber) InstrumentationScope() layer.InstrumentationScope {
	return s.scope
}

// ProviderOptions returns the sampler, resource and span limits as
// tracer provider options.
func (s *Subscriber) ProviderOptions() []sdktrace.TracerProviderOption {
	return []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(s.sampler),
		sdktrace.WithResource(s.resource),
		sdktrace.WithRawSpanLimits(s.limits),
	}
}

// Close releases files and connections opened by [Build]. It must be
// called after the exporter has been shut down.
func (s *Subscriber) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err := s.closers[i].Close()
		if err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Option configures [Build].
type Option func(*options)

type options struct {
	log *zap.Logger
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// ConfigError is returned when a layer, or the environment it falls back
// to, holds an unusable value.
type ConfigError struct {
	Layer string
	Field string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigError) Error() string {
	return fmt.Sprintf("invalid %s subscriber config field %s: %s", e.Layer, e.Field, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigError) Unwrap() error {
	return e.Cause
}

// BuildError is returned when a valid layer still could not be assembled,
// e.g. because its output file could not be opened.
type BuildError struct {
	Layer string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e BuildError) Error() string {
	return fmt.Sprintf("failed to build %s subscriber: %s", e.Layer, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e BuildError) Unwrap() error {
	return e.Cause
}

// ErrUnknownLayer is returned for a nil or foreign [layer.Config].
var ErrUnknownLayer = errors.New("unknown layer config")

const (
	kindFile        = "file"
	kindOtlpFile    = "otlp_file"
	kindOtlpNetwork = "otlp_network"
)

// Build assembles cfg. On error nothing opened during assembly is left open.
func Build(ctx context.Context, cfg layer.Config, opts ...Option) (_ *Subscriber, err error) {
	o := &options{log: zap.L()}
	for _, opt := range opts {
		opt(o)
	}

	s := &Subscriber{}
	defer func() {
		if err == nil {
			return
		}
		_ = s.Close()
	}()

	e := newEnv()
	var common layer.Common
	switch c := cfg.(type) {
	case layer.File:
		s.kind, common = kindFile, c.Common
	case layer.OtlpFile:
		s.kind, common = kindOtlpFile, c.Common
	case layer.OtlpNetwork:
		s.kind, common = kindOtlpNetwork, c.Common
	default:
		return nil, ConfigError{Layer: fmt.Sprintf("%T", cfg), Field: "kind", Cause: ErrUnknownLayer}
	}

	err = cfg.Validate()
	if err != nil {
		field := "layer"
		var lerr layer.ConfigError
		if errors.As(err, &lerr) {
			field = lerr.Field
		}
		return nil, ConfigError{Layer: s.kind, Field: field, Cause: err}
	}

	s.filter, err = resolveFilter(common.Filter, e)
	if err != nil {
		return nil, ConfigError{Layer: s.kind, Field: "filter", Cause: err}
	}
	s.sampler = sampler(common.Sampler)
	s.resource = newResource(common.Resource)
	s.limits = spanLimits(common.SpanLimits, e)

	log := o.log.With(zap.String("layer", s.kind))
	switch c := cfg.(type) {
	case layer.File:
		err = s.buildFile(c)
	case layer.OtlpFile:
		err = s.buildOtlpFile(c)
	case layer.OtlpNetwork:
		err = s.buildNetwork(ctx, c, e, log)
	}
	if err != nil {
		return nil, err
	}

	log.Debug("assembled subscriber",
		zap.Stringer("filter", s.filter),
		zap.Bool("requires_background", s.RequiresBackground()),
		zap.Duration("shutdown_budget", s.budget),
	)
	return s, nil
}

func resolveFilter(expr string, e env) (*filter.Filter, error) {
	if expr == "" {
		expr = e.filter()
	}
	if expr == "" {
		return filter.Off(), nil
	}
	return filter.Parse(expr)
}

func sampler(s layer.Sampler) sdktrace.Sampler {
	switch s.Kind() {
	case layer.SamplerAlwaysOn:
		return sdktrace.AlwaysSample()
	case layer.SamplerAlwaysOff:
		return sdktrace.NeverSample()
	case layer.SamplerRatio:
		return sdktrace.TraceIDRatioBased(s.Ratio())
	default:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
}

func newResource(r layer.Resource) *resource.Resource {
	if r.IsZero() {
		return resource.Default()
	}
	return resource.NewWithAttributes(r.SchemaURL(), r.Attributes()...)
}

func spanLimits(l layer.SpanLimits, e env) sdktrace.SpanLimits {
	pick := func(v layer.Limit, key string) int {
		if v.IsSet() {
			return int(v)
		}
		return e.limit(key)
	}
	return sdktrace.SpanLimits{
		AttributeValueLengthLimit:   -1,
		AttributeCountLimit:         pick(l.AttributesPerSpan, keyAttrCount),
		EventCountLimit:             pick(l.EventsPerSpan, keyEventCount),
		LinkCountLimit:              pick(l.LinksPerSpan, keyLinkCount),
		AttributePerEventCountLimit: pick(l.AttributesPerEvent, keyEventAttrCount),
		AttributePerLinkCountLimit:  pick(l.AttributesPerLink, keyLinkAttrCount),
	}
}

// output resolves the destination of a file based layer.
func (s *Subscriber) output(path string, w io.Writer) (io.Writer, error) {
	if w != nil {
		return w, nil
	}
	if path == "" {
		return os.Stdout, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, BuildError{Layer: s.kind, Cause: err}
	}
	s.closers = append(s.closers, f)
	return f, nil
}
