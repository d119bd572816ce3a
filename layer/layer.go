// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package layer describes the exporter backends a tracing pipeline can be built from.
//
// A layer is a pure value. It is validated when constructed and never
// performs I/O; turning it into a running exporter is the job of the
// subscriber package.
package layer

import (
	"fmt"

	"github.com/z5labs/spanbridge/filter"
)

// Config is a closed set of exporter descriptions: [File], [OtlpFile]
// and [OtlpNetwork].
type Config interface {
	Validate() error

	isLayer()
}

// Common holds the knobs shared by every layer.
type Common struct {
	// Filter is a level/target filter expression. When empty it is
	// resolved from the environment during assembly.
	Filter string

	Sampler    Sampler
	Resource   Resource
	SpanLimits SpanLimits
}

func (c Common) validate() error {
	if c.Filter != "" {
		_, err := filter.Parse(c.Filter)
		if err != nil {
			return ConfigError{Field: "filter", Cause: err}
		}
	}
	err := c.SpanLimits.Validate()
	if err != nil {
		return err
	}
	return c.Sampler.Validate()
}

// CommonOption configures the [Common] knobs and applies to every layer.
type CommonOption interface {
	FileOption
	OtlpFileOption
	OtlpNetworkOption
}

type commonOptionFunc func(*Common)

func (f commonOptionFunc) ApplyFile(cfg *File) {
	f(&cfg.Common)
}

func (f commonOptionFunc) ApplyOtlpFile(cfg *OtlpFile) {
	f(&cfg.Common)
}

func (f commonOptionFunc) ApplyOtlpNetwork(cfg *OtlpNetwork) {
	f(&cfg.Common)
}

// WithFilter sets the filter expression, e.g. "info,db=debug".
func WithFilter(expr string) CommonOption {
	return commonOptionFunc(func(c *Common) {
		c.Filter = expr
	})
}

// WithSampler sets the sampler.
func WithSampler(s Sampler) CommonOption {
	return commonOptionFunc(func(c *Common) {
		c.Sampler = s
	})
}

// WithResource sets the resource describing the traced entity.
func WithResource(r Resource) CommonOption {
	return commonOptionFunc(func(c *Common) {
		c.Resource = r
	})
}

// WithSpanLimits sets the span limits.
func WithSpanLimits(l SpanLimits) CommonOption {
	return commonOptionFunc(func(c *Common) {
		c.SpanLimits = l
	})
}

// ConfigError is returned when a layer field holds an invalid value.
type ConfigError struct {
	Field string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigError) Error() string {
	return fmt.Sprintf("invalid layer config field %s: %s", e.Field, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigError) Unwrap() error {
	return e.Cause
}
