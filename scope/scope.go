// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package scope installs a running export process either process wide or
// for a single context tree.
package scope

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/z5labs/spanbridge/export"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config is a closed set of scopes: [Current] and [Global].
type Config interface {
	// ExportConfig returns the export discipline, defaulting to [export.Batch].
	ExportConfig() export.Config

	isScope()
}

// Global installs the pipeline as the process wide tracer provider. It
// may succeed at most once per process.
type Global struct {
	Export export.Config
}

func (Global) isScope() {}

// ExportConfig implements the [Config] interface.
func (g Global) ExportConfig() export.Config {
	return orDefault(g.Export)
}

// Current installs the pipeline into the returned [context.Context] only.
type Current struct {
	Export export.Config
}

func (Current) isScope() {}

// ExportConfig implements the [Config] interface.
func (c Current) ExportConfig() export.Config {
	return orDefault(c.Export)
}

func orDefault(cfg export.Config) export.Config {
	if cfg == nil {
		return export.Default()
	}
	return cfg
}

// Default is the scope used when none is given.
func Default() Config {
	return Global{}
}

var (
	// ErrAlreadyInitialized is returned when a global pipeline has
	// already been installed, or is being installed, in this process.
	ErrAlreadyInitialized = errors.New("global tracing pipeline already initialized")

	// ErrNestedScope is returned when installing a current scope into a
	// context that already carries an active one.
	ErrNestedScope = errors.New("a current tracing scope is already active in this context")

	// ErrUnknownScope is returned for a nil or foreign [Config].
	ErrUnknownScope = errors.New("unknown scope")
)

// InstallError wraps every failure of [Install].
type InstallError struct {
	Scope string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e InstallError) Error() string {
	return fmt.Sprintf("failed to install %s tracing scope: %s", e.Scope, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InstallError) Unwrap() error {
	return e.Cause
}

const (
	latchFree int32 = iota
	latchReserved
	latchInstalled
)

// globalLatch guards the process wide slot. Once installed it is never
// released, not even after the installed pipeline shuts down.
var globalLatch atomic.Int32

// globalProcess is the process published by the global slot.
var globalProcess atomic.Pointer[export.Process]

type frameKey struct{}

// frame is the current scope marker carried by a context.
type frame struct {
	process *export.Process
	active  atomic.Bool
}

// Installation is an installed pipeline.
type Installation struct {
	scope   string
	process *export.Process
	frame   *frame
}

// Option configures [Install].
type Option func(*options)

type options struct {
	log        *zap.Logger
	exportOpts []export.Option
	activate   func(context.Context) error
	abort      func(context.Context, *export.Process) error
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithExportOptions passes opts through to [export.Start].
func WithExportOptions(opts ...export.Option) Option {
	return func(o *options) {
		o.exportOpts = append(o.exportOpts, opts...)
	}
}

// WithActivation runs activate once the export process has started but
// before it is published, globally or into the returned context. The
// context given to activate already reaches the new pipeline through
// [TracerProvider]. A failing activation shuts the process down with
// abort, or [export.Process.Shutdown] if abort is nil, and leaves
// nothing installed.
func WithActivation(activate func(context.Context) error, abort func(context.Context, *export.Process) error) Option {
	return func(o *options) {
		o.activate = activate
		o.abort = abort
	}
}

// ActivationError is returned when the activation given to
// [WithActivation] fails. Cause also holds any error from shutting the
// unpublished process down.
type ActivationError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ActivationError) Error() string {
	return fmt.Sprintf("tracing pipeline failed to activate: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ActivationError) Unwrap() error {
	return e.Cause
}

// activatePipeline runs the activation against p and undoes p on failure.
func (o *options) activatePipeline(ctx context.Context, p *export.Process) error {
	if o.activate == nil {
		return nil
	}

	f := &frame{process: p}
	f.active.Store(true)
	err := o.activate(context.WithValue(ctx, frameKey{}, f))
	f.active.Store(false)
	if err == nil {
		return nil
	}

	abort := o.abort
	if abort == nil {
		abort = func(ctx context.Context, p *export.Process) error {
			return p.Shutdown(ctx)
		}
	}
	if aerr := abort(ctx, p); aerr != nil {
		err = errors.Join(err, aerr)
	}
	return ActivationError{Cause: err}
}

// Install starts cfg's export process and installs it. The returned
// context must be used to reach a [Current] pipeline.
func Install(ctx context.Context, cfg Config, opts ...Option) (context.Context, *Installation, error) {
	o := &options{log: zap.L()}
	for _, opt := range opts {
		opt(o)
	}
	eopts := append([]export.Option{export.WithLogger(o.log)}, o.exportOpts...)

	switch c := cfg.(type) {
	case Global:
		return installGlobal(ctx, c, o, eopts)
	case Current:
		return installCurrent(ctx, c, o, eopts)
	default:
		return ctx, nil, InstallError{Scope: fmt.Sprintf("%T", cfg), Cause: ErrUnknownScope}
	}
}

func installGlobal(ctx context.Context, cfg Global, o *options, opts []export.Option) (context.Context, *Installation, error) {
	if !globalLatch.CompareAndSwap(latchFree, latchReserved) {
		return ctx, nil, InstallError{Scope: "global", Cause: ErrAlreadyInitialized}
	}

	p, err := export.Start(ctx, cfg.ExportConfig(), opts...)
	if err != nil {
		globalLatch.Store(latchFree)
		return ctx, nil, InstallError{Scope: "global", Cause: err}
	}

	err = o.activatePipeline(ctx, p)
	if err != nil {
		globalLatch.Store(latchFree)
		return ctx, nil, InstallError{Scope: "global", Cause: err}
	}

	globalProcess.Store(p)
	otel.SetTracerProvider(p.TracerProvider())
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	globalLatch.Store(latchInstalled)

	o.log.Info("installed global tracing pipeline", zap.String("discipline", p.Discipline()))
	return ctx, &Installation{scope: "global", process: p}, nil
}

func installCurrent(ctx context.Context, cfg Current, o *options, opts []export.Option) (context.Context, *Installation, error) {
	if f, ok := ctx.Value(frameKey{}).(*frame); ok && f.active.Load() {
		return ctx, nil, InstallError{Scope: "current", Cause: ErrNestedScope}
	}

	p, err := export.Start(ctx, cfg.ExportConfig(), opts...)
	if err != nil {
		return ctx, nil, InstallError{Scope: "current", Cause: err}
	}

	err = o.activatePipeline(ctx, p)
	if err != nil {
		return ctx, nil, InstallError{Scope: "current", Cause: err}
	}

	f := &frame{process: p}
	f.active.Store(true)

	o.log.Debug("installed current tracing pipeline", zap.String("discipline", p.Discipline()))
	return context.WithValue(ctx, frameKey{}, f), &Installation{scope: "current", process: p, frame: f}, nil
}

// Scope returns "global" or "current".
func (i *Installation) Scope() string {
	return i.scope
}

// Process returns the underlying export process.
func (i *Installation) Process() *export.Process {
	return i.process
}

// Shutdown deactivates a current scope and shuts the export process down.
// A global installation keeps its slot; spans created from it afterwards
// are dropped.
func (i *Installation) Shutdown(ctx context.Context) error {
	if i.frame != nil {
		i.frame.active.Store(false)
	}
	return i.process.Shutdown(ctx)
}

// TracerProvider returns the active current scope's provider carried by
// ctx, or the global provider when there is none.
func TracerProvider(ctx context.Context) trace.TracerProvider {
	if f, ok := ctx.Value(frameKey{}).(*frame); ok && f.active.Load() {
		return f.process.TracerProvider()
	}
	return otel.GetTracerProvider()
}

// Tracer returns a tracer from the pipeline reaching ctx. A pipeline
// whose layer configures an instrumentation scope names the tracer
// itself, see [export.Process.Tracer].
func Tracer(ctx context.Context, name string, opts ...trace.TracerOption) trace.Tracer {
	if f, ok := ctx.Value(frameKey{}).(*frame); ok && f.active.Load() {
		return f.process.Tracer(name, opts...)
	}
	if p := globalProcess.Load(); p != nil {
		return p.Tracer(name, opts...)
	}
	return otel.Tracer(name, opts...)
}

// GlobalInstalled reports whether a global pipeline has been installed.
func GlobalInstalled() bool {
	return globalLatch.Load() == latchInstalled
}
