// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package health reports whether parts of a running pipeline can still
// deliver spans.
package health

import (
	"context"
	"sync/atomic"
)

// Metric represents anything that can report its health status.
type Metric interface {
	Healthy(context.Context) bool
}

// MetricFunc is a func type which implements [Metric].
type MetricFunc func(context.Context) bool

// Healthy implements the [Metric] interface.
func (f MetricFunc) Healthy(ctx context.Context) bool {
	return f(ctx)
}

// Binary represents a [Metric] that is either healthy or not.
// The zero value is healthy.
type Binary struct {
	unhealthy atomic.Bool
}

// Set records the current state.
func (m *Binary) Set(healthy bool) {
	m.unhealthy.Store(!healthy)
}

// Healthy implements the [Metric] interface.
func (m *Binary) Healthy(context.Context) bool {
	return !m.unhealthy.Load()
}

// AndMetric represents multiple Metrics all and'd together.
type AndMetric struct {
	metrics []Metric
}

// And returns a Metric where all the underlying Metrics healthy
// states are joined together via the logical and (&&) operator.
// And of nothing is healthy.
func And(metrics ...Metric) AndMetric {
	return AndMetric{
		metrics: metrics,
	}
}

// Healthy implements the [Metric] interface.
func (m AndMetric) Healthy(ctx context.Context) bool {
	for _, metric := range m.metrics {
		if !metric.Healthy(ctx) {
			return false
		}
	}
	return true
}
