// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package subscriber

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/z5labs/spanbridge/health"
	"github.com/z5labs/spanbridge/layer"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	breakerTripCount = 5
	breakerTimeout   = 30 * time.Second
)

func (s *Subscriber) buildNetwork(ctx context.Context, cfg layer.OtlpNetwork, e env, log *zap.Logger) error {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = e.endpoint()
	}
	ep, err := layer.ParseEndpoint(endpoint)
	if err != nil {
		return ConfigError{Layer: s.kind, Field: "endpoint", Cause: err}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = e.timeout()
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}

	headers := e.headers()
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	err = layer.ValidateHeaders(headers)
	if err != nil {
		return ConfigError{Layer: s.kind, Field: "headers", Cause: err}
	}

	creds := insecure.NewCredentials()
	if ep.Secure {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	// Dialing does not block, connectivity problems surface on export.
	conn, err := grpc.DialContext(
		ctx,
		ep.Target,
		grpc.WithTransportCredentials(creds),
		grpc.WithUserAgent("spanbridge"),
	)
	if err != nil {
		return BuildError{Layer: s.kind, Cause: err}
	}
	s.closers = append(s.closers, conn)

	exp, err := otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithGRPCConn(conn),
		otlptracegrpc.WithTimeout(timeout),
		otlptracegrpc.WithHeaders(headers),
	)
	if err != nil {
		return BuildError{Layer: s.kind, Cause: err}
	}

	var connected, closed health.Binary
	s.exporter = newBreakerExporter(exp, ep.Target, &closed, log)
	s.background = append(s.background, watchConnectivity(conn, &connected, log))
	s.health = health.And(&connected, &closed)
	s.budget = cfg.ShutdownBudget()
	s.scope = cfg.InstrumentationScope

	log.Info("configured otlp exporter",
		zap.String("target", ep.Target),
		zap.Bool("tls", ep.Secure),
		zap.Duration("timeout", timeout),
		zap.Int("headers", len(headers)),
	)
	return nil
}

// watchConnectivity tracks connection state changes until ctx is cancelled.
func watchConnectivity(conn *grpc.ClientConn, connected *health.Binary, log *zap.Logger) Task {
	return func(ctx context.Context) error {
		state := conn.GetState()
		for conn.WaitForStateChange(ctx, state) {
			next := conn.GetState()
			log.Debug("collector connection state changed",
				zap.Stringer("from", state),
				zap.Stringer("to", next),
			)
			connected.Set(reachable(next))
			state = next
		}
		return nil
	}
}

// reachable reports whether exports can be expected to succeed in state.
func reachable(state connectivity.State) bool {
	switch state {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return false
	default:
		return true
	}
}

// breakerExporter stops calling a collector that keeps failing so that
// exports, and therefore shutdown, fail fast instead of waiting out the
// request timeout every time.
type breakerExporter struct {
	next sdktrace.SpanExporter
	cb   *gobreaker.CircuitBreaker
}

func newBreakerExporter(next sdktrace.SpanExporter, name string, closed *health.Binary, log *zap.Logger) *breakerExporter {
	log = log.Named("breaker")
	return &breakerExporter{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerTripCount
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				closed.Set(to != gobreaker.StateOpen)
				switch to {
				case gobreaker.StateOpen:
					log.Error("circuit has been opened, spans will be dropped", zap.String("target", name))
				case gobreaker.StateHalfOpen:
					log.Warn("circuit is now half open and letting an export through", zap.String("target", name))
				case gobreaker.StateClosed:
					log.Info("circuit has been closed", zap.String("target", name))
				}
			},
		}),
	}
}

// ExportSpans implements the [sdktrace.SpanExporter] interface.
func (e *breakerExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	_, err := e.cb.Execute(func() (interface{}, error) {
		return nil, e.next.ExportSpans(ctx, spans)
	})
	return err
}

// Shutdown implements the [sdktrace.SpanExporter] interface.
func (e *breakerExporter) Shutdown(ctx context.Context) error {
	return e.next.Shutdown(ctx)
}
