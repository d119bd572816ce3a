// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package spanbridge

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/z5labs/spanbridge/config"
	"github.com/z5labs/spanbridge/lifecycle"

	"go.uber.org/zap"
)

// Body represents the traced work.
type Body interface {
	Run(context.Context) error
}

// BodyFunc is a functional implementation of the [Body] interface.
type BodyFunc func(context.Context) error

// Run implements the [Body] interface.
func (f BodyFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Option configures a [Runner].
type Option func(*Runner)

// WithLogger sets the logger for the pipeline's diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) {
		r.log = log
	}
}

// WithSignalNotifications cancels the body's context when one of
// signals is received. Shutdown still runs to completion.
func WithSignalNotifications(signals ...os.Signal) Option {
	return func(r *Runner) {
		r.signals = append(r.signals, signals...)
	}
}

// WithLifecycleOptions passes opts to the [lifecycle.Manager].
func WithLifecycleOptions(opts ...lifecycle.Option) Option {
	return func(r *Runner) {
		r.lifecycleOpts = append(r.lifecycleOpts, opts...)
	}
}

// Runner reads a [Document] and runs bodies under the pipeline it
// describes.
type Runner struct {
	log           *zap.Logger
	signals       []os.Signal
	lifecycleOpts []lifecycle.Option
}

// NewRunner returns a configured [Runner].
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		log: zap.L(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run is shorthand for NewRunner().Run.
func Run(ctx context.Context, body Body, srcs ...config.Source) error {
	return NewRunner().Run(ctx, body, srcs...)
}

// Run reads srcs into a [Document], activates the pipeline and runs body.
// The body's error is returned as is, joined with any shutdown error. A
// panic in body propagates once the pipeline has shut down.
func (r *Runner) Run(ctx context.Context, body Body, srcs ...config.Source) error {
	doc, err := ReadDocument(srcs...)
	if err != nil {
		return err
	}

	m, err := r.Manager(doc)
	if err != nil {
		return err
	}

	if len(r.signals) > 0 {
		sigCtx, cancel := signal.NotifyContext(ctx, r.signals...)
		defer cancel()
		ctx = sigCtx
	}
	return m.Run(ctx, body.Run)
}

// Manager builds an unstarted [lifecycle.Manager] for doc.
func (r *Runner) Manager(doc Document) (*lifecycle.Manager, error) {
	cfg, err := doc.Config()
	if err != nil {
		return nil, ConfigValidateError{Cause: err}
	}

	opts := []lifecycle.Option{lifecycle.WithLogger(r.log)}
	if doc.ShutdownBudget > 0 {
		opts = append(opts, lifecycle.WithShutdownBudget(doc.ShutdownBudget))
	}
	opts = append(opts, r.lifecycleOpts...)
	return lifecycle.New(cfg, opts...), nil
}

// ReadDocument reads and merges srcs into a [Document] and checks that it
// describes a valid pipeline.
func ReadDocument(srcs ...config.Source) (Document, error) {
	m, err := config.Read(srcs...)
	if err != nil {
		return Document{}, ConfigReadError{Cause: err}
	}

	var doc Document
	err = m.Unmarshal(&doc)
	if err != nil {
		return Document{}, ConfigUnmarshalError{Cause: err}
	}

	_, err = doc.Config()
	if err != nil {
		return Document{}, ConfigValidateError{Cause: err}
	}
	return doc, nil
}

// ConfigReadError
type ConfigReadError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigReadError) Error() string {
	return fmt.Sprintf("failed to read config source(s): %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigReadError) Unwrap() error {
	return e.Cause
}

// ConfigUnmarshalError
type ConfigUnmarshalError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigUnmarshalError) Error() string {
	return fmt.Sprintf("failed to unmarshal config source(s) into a tracing document: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigUnmarshalError) Unwrap() error {
	return e.Cause
}

// ConfigValidateError occurs when a document was read but does not
// describe a valid pipeline.
type ConfigValidateError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigValidateError) Error() string {
	return fmt.Sprintf("invalid tracing document: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigValidateError) Unwrap() error {
	return e.Cause
}
