// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package spanbridge

import (
	"fmt"
	"time"

	"github.com/z5labs/spanbridge/export"
	"github.com/z5labs/spanbridge/layer"
	"github.com/z5labs/spanbridge/scope"
)

// Document is the declarative form of a tracing pipeline, as read from
// config sources. Empty fields take the defaults: a global scope, batch
// export and a file layer writing to stdout.
type Document struct {
	Scope          string        `config:"scope" yaml:"scope,omitempty"`
	Export         string        `config:"export" yaml:"export,omitempty"`
	ShutdownBudget time.Duration `config:"shutdown_budget" yaml:"shutdown_budget,omitempty"`
	Layer          LayerDocument `config:"layer" yaml:"layer"`
}

// LayerDocument describes one layer. Fields that do not apply to Kind
// are ignored.
type LayerDocument struct {
	Kind   string `config:"kind" yaml:"kind,omitempty"`
	Filter string `config:"filter" yaml:"filter,omitempty"`

	// file and otlp_file
	Path   string `config:"path" yaml:"path,omitempty"`
	Pretty bool   `config:"pretty" yaml:"pretty,omitempty"`
	JSON   bool   `config:"json" yaml:"json,omitempty"`

	// otlp_network
	Endpoint             string            `config:"endpoint" yaml:"endpoint,omitempty"`
	Headers              map[string]string `config:"headers" yaml:"headers,omitempty"`
	Timeout              time.Duration     `config:"timeout" yaml:"timeout,omitempty"`
	PreShutdownTimeout   time.Duration     `config:"pre_shutdown_timeout" yaml:"pre_shutdown_timeout,omitempty"`
	InstrumentationScope ScopeDocument     `config:"instrumentation_scope" yaml:"instrumentation_scope,omitempty"`

	Sampler    SamplerDocument    `config:"sampler" yaml:"sampler,omitempty"`
	Resource   map[string]any     `config:"resource" yaml:"resource,omitempty"`
	SchemaURL  string             `config:"schema_url" yaml:"schema_url,omitempty"`
	SpanLimits SpanLimitsDocument `config:"span_limits" yaml:"span_limits,omitempty"`
}

// ScopeDocument mirrors [layer.InstrumentationScope].
type ScopeDocument struct {
	Name      string `config:"name" yaml:"name,omitempty"`
	Version   string `config:"version" yaml:"version,omitempty"`
	SchemaURL string `config:"schema_url" yaml:"schema_url,omitempty"`
}

// SamplerDocument selects a sampler by kind: always_on, always_off or
// ratio.
type SamplerDocument struct {
	Kind  string  `config:"kind" yaml:"kind,omitempty"`
	Ratio float64 `config:"ratio" yaml:"ratio,omitempty"`
}

// SpanLimitsDocument mirrors [layer.SpanLimits]. -1 removes a limit.
type SpanLimitsDocument struct {
	EventsPerSpan      layer.Limit `config:"events_per_span" yaml:"events_per_span,omitempty"`
	AttributesPerSpan  layer.Limit `config:"attributes_per_span" yaml:"attributes_per_span,omitempty"`
	LinksPerSpan       layer.Limit `config:"links_per_span" yaml:"links_per_span,omitempty"`
	AttributesPerEvent layer.Limit `config:"attributes_per_event" yaml:"attributes_per_event,omitempty"`
	AttributesPerLink  layer.Limit `config:"attributes_per_link" yaml:"attributes_per_link,omitempty"`
}

// UnknownKindError is returned for a kind, scope or export discipline
// that is not recognized.
type UnknownKindError struct {
	Field string
	Value string
}

// Error implements the [builtin.error] interface.
func (e UnknownKindError) Error() string {
	return fmt.Sprintf("unknown %s: %q", e.Field, e.Value)
}

// Config converts d into a validated [scope.Config].
func (d Document) Config() (scope.Config, error) {
	l, err := d.Layer.config()
	if err != nil {
		return nil, err
	}

	var exp export.Config
	switch d.Export {
	case "", "batch":
		exp = export.Batch{Layer: l}
	case "simple":
		exp = export.Simple{Layer: l}
	default:
		return nil, UnknownKindError{Field: "export", Value: d.Export}
	}

	switch d.Scope {
	case "", "global":
		return scope.Global{Export: exp}, nil
	case "current":
		return scope.Current{Export: exp}, nil
	default:
		return nil, UnknownKindError{Field: "scope", Value: d.Scope}
	}
}

func (d LayerDocument) config() (layer.Config, error) {
	common, err := d.common()
	if err != nil {
		return nil, err
	}

	switch d.Kind {
	case "", "file":
		opts := []layer.FileOption{common, layer.FilePath(d.Path)}
		if d.Pretty {
			opts = append(opts, layer.Pretty())
		}
		if d.JSON {
			opts = append(opts, layer.JSON())
		}
		return layer.NewFile(opts...)
	case "otlp_file":
		return layer.NewOtlpFile(common, layer.OtlpFilePath(d.Path))
	case "otlp_network":
		opts := []layer.OtlpNetworkOption{
			common,
			layer.WithEndpoint(d.Endpoint),
			layer.WithTimeout(d.Timeout),
			layer.WithPreShutdownTimeout(d.PreShutdownTimeout),
			layer.WithInstrumentationScope(
				d.InstrumentationScope.Name,
				d.InstrumentationScope.Version,
				d.InstrumentationScope.SchemaURL,
			),
		}
		for k, v := range d.Headers {
			opts = append(opts, layer.WithHeader(k, v))
		}
		return layer.NewOtlpNetwork(opts...)
	default:
		return nil, UnknownKindError{Field: "layer.kind", Value: d.Kind}
	}
}

// commonOptions applies to every layer kind.
type commonOptions []layer.CommonOption

func (opts commonOptions) ApplyFile(cfg *layer.File) {
	for _, opt := range opts {
		opt.ApplyFile(cfg)
	}
}

func (opts commonOptions) ApplyOtlpFile(cfg *layer.OtlpFile) {
	for _, opt := range opts {
		opt.ApplyOtlpFile(cfg)
	}
}

func (opts commonOptions) ApplyOtlpNetwork(cfg *layer.OtlpNetwork) {
	for _, opt := range opts {
		opt.ApplyOtlpNetwork(cfg)
	}
}

func (d LayerDocument) common() (commonOptions, error) {
	opts := commonOptions{
		layer.WithFilter(d.Filter),
		layer.WithSpanLimits(layer.SpanLimits{
			EventsPerSpan:      d.SpanLimits.EventsPerSpan,
			AttributesPerSpan:  d.SpanLimits.AttributesPerSpan,
			LinksPerSpan:       d.SpanLimits.LinksPerSpan,
			AttributesPerEvent: d.SpanLimits.AttributesPerEvent,
			AttributesPerLink:  d.SpanLimits.AttributesPerLink,
		}),
	}

	switch d.Sampler.Kind {
	case "":
	case "always_on":
		opts = append(opts, layer.WithSampler(layer.AlwaysOn()))
	case "always_off":
		opts = append(opts, layer.WithSampler(layer.AlwaysOff()))
	case "ratio":
		s, err := layer.SampleRatio(d.Sampler.Ratio)
		if err != nil {
			return nil, err
		}
		opts = append(opts, layer.WithSampler(s))
	default:
		return nil, UnknownKindError{Field: "layer.sampler.kind", Value: d.Sampler.Kind}
	}

	if len(d.Resource) > 0 || d.SchemaURL != "" {
		r, err := layer.NewResource(d.Resource, d.SchemaURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, layer.WithResource(r))
	}
	return opts, nil
}
