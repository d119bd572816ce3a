// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package layer

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultPreShutdownTimeout bounds how long shutdown waits for a network
// layer to flush when no timeout is configured.
const DefaultPreShutdownTimeout = 2 * time.Second

// OtlpNetwork exports spans to an OTLP collector over gRPC.
//
// Unset fields are resolved during assembly from the standard
// OTEL_EXPORTER_OTLP_* environment variables.
type OtlpNetwork struct {
	Common

	// Endpoint is an absolute http or https URL. http means plaintext.
	Endpoint string

	// Headers are sent as gRPC metadata with every export request.
	Headers map[string]string

	// Timeout bounds a single export request.
	Timeout time.Duration

	// PreShutdownTimeout bounds the final flush. Zero means
	// [DefaultPreShutdownTimeout].
	PreShutdownTimeout time.Duration

	// InstrumentationScope names the tracer the pipeline hands out when
	// the caller does not name one. The zero value leaves that choice to
	// the caller.
	InstrumentationScope InstrumentationScope
}

// InstrumentationScope identifies the instrumentation that produced a span.
type InstrumentationScope struct {
	Name      string
	Version   string
	SchemaURL string
}

// IsZero reports whether no scope has been configured.
func (s InstrumentationScope) IsZero() bool {
	return s == InstrumentationScope{}
}

var errMissingScopeName = errors.New("a version or schema url requires a name")

func (s InstrumentationScope) validate() error {
	if s.Name == "" && !s.IsZero() {
		return ConfigError{Field: "instrumentation_scope", Cause: errMissingScopeName}
	}
	if s.SchemaURL != "" {
		_, err := url.Parse(s.SchemaURL)
		if err != nil {
			return ConfigError{Field: "instrumentation_scope", Cause: err}
		}
	}
	return nil
}

func (OtlpNetwork) isLayer() {}

// Validate implements the [Config] interface.
func (n OtlpNetwork) Validate() error {
	err := n.Common.validate()
	if err != nil {
		return err
	}
	if n.Endpoint != "" {
		_, err = ParseEndpoint(n.Endpoint)
		if err != nil {
			return ConfigError{Field: "endpoint", Cause: err}
		}
	}
	err = ValidateHeaders(n.Headers)
	if err != nil {
		return err
	}
	if n.Timeout < 0 {
		return ConfigError{Field: "timeout", Cause: errNegativeDuration}
	}
	if n.PreShutdownTimeout < 0 {
		return ConfigError{Field: "pre_shutdown_timeout", Cause: errNegativeDuration}
	}
	return n.InstrumentationScope.validate()
}

// ShutdownBudget returns the configured pre-shutdown timeout or its default.
func (n OtlpNetwork) ShutdownBudget() time.Duration {
	if n.PreShutdownTimeout == 0 {
		return DefaultPreShutdownTimeout
	}
	return n.PreShutdownTimeout
}

var (
	errNegativeDuration  = errors.New("duration must not be negative")
	errUnsupportedScheme = errors.New("scheme must be http or https")
	errMissingHost       = errors.New("missing host")
)

// Endpoint is a parsed collector address.
type Endpoint struct {
	// Target is the host:port form understood by gRPC.
	Target string
	Secure bool
}

// ParseEndpoint validates an endpoint URL and derives its gRPC target.
// A missing port defaults to 4317.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, err
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return Endpoint{}, errUnsupportedScheme
	}
	if u.Hostname() == "" {
		return Endpoint{}, errMissingHost
	}
	port := u.Port()
	if port == "" {
		port = "4317"
	}
	host := u.Hostname()
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return Endpoint{
		Target: host + ":" + port,
		Secure: u.Scheme == "https",
	}, nil
}

// InvalidHeaderError reports a header that cannot be sent as gRPC metadata.
type InvalidHeaderError struct {
	Key    string
	Reason string
}

// Error implements the [builtin.error] interface.
func (e InvalidHeaderError) Error() string {
	return fmt.Sprintf("invalid metadata header %q: %s", e.Key, e.Reason)
}

// ValidateHeaders checks keys and values against the gRPC metadata rules.
func ValidateHeaders(headers map[string]string) error {
	for k, v := range headers {
		err := validateHeader(k, v)
		if err != nil {
			return ConfigError{Field: "headers", Cause: err}
		}
	}
	return nil
}

func validateHeader(k, v string) error {
	if k == "" {
		return InvalidHeaderError{Key: k, Reason: "key must not be empty"}
	}
	if strings.HasPrefix(k, "grpc-") {
		return InvalidHeaderError{Key: k, Reason: "keys starting with grpc- are reserved"}
	}
	for _, r := range k {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return InvalidHeaderError{Key: k, Reason: fmt.Sprintf("key contains %q", r)}
		}
	}
	if strings.HasSuffix(k, "-bin") {
		return nil
	}
	for _, r := range v {
		if r < 0x20 || r > 0x7e {
			return InvalidHeaderError{Key: k, Reason: "value must be printable ASCII"}
		}
	}
	return nil
}

// OtlpNetworkOption configures an [OtlpNetwork] layer.
type OtlpNetworkOption interface {
	ApplyOtlpNetwork(*OtlpNetwork)
}

type otlpNetworkOptionFunc func(*OtlpNetwork)

func (f otlpNetworkOptionFunc) ApplyOtlpNetwork(cfg *OtlpNetwork) {
	f(cfg)
}

// WithEndpoint sets the collector URL.
func WithEndpoint(endpoint string) OtlpNetworkOption {
	return otlpNetworkOptionFunc(func(n *OtlpNetwork) {
		n.Endpoint = endpoint
	})
}

// WithHeader adds a single metadata header.
func WithHeader(key, value string) OtlpNetworkOption {
	return otlpNetworkOptionFunc(func(n *OtlpNetwork) {
		if n.Headers == nil {
			n.Headers = make(map[string]string)
		}
		n.Headers[key] = value
	})
}

// WithTimeout sets the per request export timeout.
func WithTimeout(d time.Duration) OtlpNetworkOption {
	return otlpNetworkOptionFunc(func(n *OtlpNetwork) {
		n.Timeout = d
	})
}

// WithPreShutdownTimeout sets how long shutdown may wait for the final flush.
func WithPreShutdownTimeout(d time.Duration) OtlpNetworkOption {
	return otlpNetworkOptionFunc(func(n *OtlpNetwork) {
		n.PreShutdownTimeout = d
	})
}

// WithInstrumentationScope sets the scope of the pipeline's default tracer.
func WithInstrumentationScope(name, version, schemaURL string) OtlpNetworkOption {
	return otlpNetworkOptionFunc(func(n *OtlpNetwork) {
		n.InstrumentationScope = InstrumentationScope{
			Name:      name,
			Version:   version,
			SchemaURL: schemaURL,
		}
	})
}

// NewOtlpNetwork builds and validates an [OtlpNetwork] layer.
func NewOtlpNetwork(opts ...OtlpNetworkOption) (OtlpNetwork, error) {
	var n OtlpNetwork
	for _, opt := range opts {
		opt.ApplyOtlpNetwork(&n)
	}
	return n, n.Validate()
}
