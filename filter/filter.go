// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package filter decides which finished spans reach an exporter.
//
// An expression is a comma separated list of directives. A directive
// is either a bare level, which sets the default, or target=level,
// which applies to spans whose instrumentation scope name starts with
// target:
//
//	warn,github.com/acme/db=debug,github.com/acme/db/pool=off
//
// Levels are trace, debug, info, warn, error and off.
package filter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zapcore"
)

const (
	// TraceLevel is more verbose than [zapcore.DebugLevel].
	TraceLevel = zapcore.DebugLevel - 1

	// OffLevel is above every level a span can carry.
	OffLevel = zapcore.FatalLevel + 1
)

// LevelKey is the span attribute holding a span's level.
const LevelKey = attribute.Key("level")

var (
	errEmptyLevel  = errors.New("empty level")
	errEmptyTarget = errors.New("empty target")
)

// Level returns the attribute marking a span with lvl.
func Level(lvl zapcore.Level) attribute.KeyValue {
	return LevelKey.String(LevelString(lvl))
}

// LevelString renders lvl the way [ParseLevel] accepts it.
func LevelString(lvl zapcore.Level) string {
	switch {
	case lvl <= TraceLevel:
		return "trace"
	case lvl >= OffLevel:
		return "off"
	default:
		return lvl.String()
	}
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TraceLevel, nil
	case "off", "none":
		return OffLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	case "":
		return 0, errEmptyLevel
	}
	return zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
}

// Directive enables spans at or above Level for scopes under Target.
type Directive struct {
	Target string
	Level  zapcore.Level
}

func (d Directive) matches(scope string) bool {
	if !strings.HasPrefix(scope, d.Target) {
		return false
	}
	if len(scope) == len(d.Target) {
		return true
	}
	switch scope[len(d.Target)] {
	case '/', '.', ':':
		return true
	}
	return false
}

// ParseError reports a malformed filter expression.
type ParseError struct {
	Expr      string
	Directive string
	Cause     error
}

// Error implements the [builtin.error] interface.
func (e ParseError) Error() string {
	return fmt.Sprintf("invalid filter directive %q in %q: %s", e.Directive, e.Expr, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ParseError) Unwrap() error {
	return e.Cause
}

// Filter holds a parsed expression.
type Filter struct {
	expr       string
	def        zapcore.Level
	directives []Directive
}

// Off returns a filter that rejects every span.
func Off() *Filter {
	return &Filter{expr: "off", def: OffLevel}
}

// Parse parses expr. An empty expression is equivalent to "off".
func Parse(expr string) (*Filter, error) {
	f := &Filter{expr: expr, def: OffLevel}
	for _, raw := range strings.Split(expr, ",") {
		d := strings.TrimSpace(raw)
		if d == "" {
			continue
		}

		target, lvl, hasTarget := strings.Cut(d, "=")
		if !hasTarget {
			l, err := ParseLevel(d)
			if err != nil {
				return nil, ParseError{Expr: expr, Directive: d, Cause: err}
			}
			f.def = l
			continue
		}

		target = strings.TrimSpace(target)
		if target == "" {
			return nil, ParseError{Expr: expr, Directive: d, Cause: errEmptyTarget}
		}
		l, err := ParseLevel(lvl)
		if err != nil {
			return nil, ParseError{Expr: expr, Directive: d, Cause: err}
		}
		f.directives = append(f.directives, Directive{Target: target, Level: l})
	}

	sort.SliceStable(f.directives, func(i, j int) bool {
		return len(f.directives[i].Target) > len(f.directives[j].Target)
	})
	return f, nil
}

// String returns the expression the filter was parsed from.
func (f *Filter) String() string {
	return f.expr
}

// Enabled reports whether a span of lvl from scope passes the filter.
func (f *Filter) Enabled(scope string, lvl zapcore.Level) bool {
	threshold := f.def
	for _, d := range f.directives {
		if d.matches(scope) {
			threshold = d.Level
			break
		}
	}
	if threshold >= OffLevel {
		return false
	}
	return lvl >= threshold
}

// SpanLevel returns the level recorded on s, or info when it has none.
func SpanLevel(s sdktrace.ReadOnlySpan) zapcore.Level {
	for _, kv := range s.Attributes() {
		if kv.Key != LevelKey {
			continue
		}
		lvl, err := ParseLevel(kv.Value.AsString())
		if err != nil {
			break
		}
		return lvl
	}
	return zapcore.InfoLevel
}

// Processor wraps next so that only enabled spans reach it.
func (f *Filter) Processor(next sdktrace.SpanProcessor) sdktrace.SpanProcessor {
	return &processor{filter: f, next: next}
}

type processor struct {
	filter *Filter
	next   sdktrace.SpanProcessor
}

func (p *processor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	p.next.OnStart(parent, s)
}

func (p *processor) OnEnd(s sdktrace.ReadOnlySpan) {
	if !p.filter.Enabled(s.InstrumentationScope().Name, SpanLevel(s)) {
		return
	}
	p.next.OnEnd(s)
}

func (p *processor) Shutdown(ctx context.Context) error {
	return p.next.Shutdown(ctx)
}

func (p *processor) ForceFlush(ctx context.Context) error {
	return p.next.ForceFlush(ctx)
}
