// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package subscriber

import (
	"context"
	"sync/atomic"

	"github.com/z5labs/spanbridge/filter"
	"github.com/z5labs/spanbridge/internal/otlpjson"
	"github.com/z5labs/spanbridge/layer"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func (s *Subscriber) buildFile(cfg layer.File) error {
	w, err := s.output(cfg.Path, cfg.Writer)
	if err != nil {
		return err
	}

	if cfg.JSON && cfg.Pretty {
		exp, err := stdouttrace.New(
			stdouttrace.WithWriter(w),
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return BuildError{Layer: s.kind, Cause: err}
		}
		s.exporter = exp
		return nil
	}

	s.exporter = newLogExporter(zapcore.AddSync(w), cfg.JSON, cfg.Pretty)
	return nil
}

func (s *Subscriber) buildOtlpFile(cfg layer.OtlpFile) error {
	w, err := s.output(cfg.Path, cfg.Writer)
	if err != nil {
		return err
	}
	s.exporter = otlpjson.NewExporter(w)
	return nil
}

// logExporter renders each span as a single zap log entry at the span's level.
type logExporter struct {
	core    zapcore.Core
	stopped atomic.Bool
}

func newLogExporter(ws zapcore.WriteSyncer, json, pretty bool) *logExporter {
	encCfg := zap.NewProductionEncoderConfig()
	if pretty {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.TimeKey = "start"
	encCfg.NameKey = "scope"
	encCfg.CallerKey = zapcore.OmitKey
	encCfg.StacktraceKey = zapcore.OmitKey
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encCfg.EncodeLevel = encodeLevel

	var enc zapcore.Encoder
	if json {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	all := zap.LevelEnablerFunc(func(zapcore.Level) bool { return true })
	return &logExporter{
		core: zapcore.NewCore(enc, zapcore.Lock(ws), all),
	}
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l <= filter.TraceLevel {
		enc.AppendString("TRACE")
		return
	}
	zapcore.CapitalLevelEncoder(l, enc)
}

// ExportSpans implements the [sdktrace.SpanExporter] interface.
func (e *logExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e.stopped.Load() {
		return nil
	}
	for _, s := range spans {
		err := ctx.Err()
		if err != nil {
			return err
		}

		ent := zapcore.Entry{
			Level:      filter.SpanLevel(s),
			Time:       s.StartTime(),
			LoggerName: s.InstrumentationScope().Name,
			Message:    s.Name(),
		}
		err = e.core.Write(ent, spanFields(s))
		if err != nil {
			return err
		}
	}
	return nil
}

// Shutdown implements the [sdktrace.SpanExporter] interface.
func (e *logExporter) Shutdown(ctx context.Context) error {
	e.stopped.Store(true)
	return ctx.Err()
}

func spanFields(s sdktrace.ReadOnlySpan) []zapcore.Field {
	sc := s.SpanContext()
	fields := []zapcore.Field{
		zap.Stringer("trace_id", sc.TraceID()),
		zap.Stringer("span_id", sc.SpanID()),
	}
	if p := s.Parent(); p.SpanID().IsValid() {
		fields = append(fields, zap.Stringer("parent_span_id", p.SpanID()))
	}
	fields = append(fields,
		zap.Stringer("kind", s.SpanKind()),
		zap.Duration("duration", s.EndTime().Sub(s.StartTime())),
	)
	if st := s.Status(); st.Code != codes.Unset {
		fields = append(fields, zap.Stringer("status", st.Code))
		if st.Description != "" {
			fields = append(fields, zap.String("status_description", st.Description))
		}
	}
	if attrs := s.Attributes(); len(attrs) > 0 {
		fields = append(fields, zap.Object("attributes", attributes(attrs)))
	}
	if evs := s.Events(); len(evs) > 0 {
		fields = append(fields, zap.Array("events", events(evs)))
	}
	return fields
}

type attributes []attribute.KeyValue

func (attrs attributes) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, kv := range attrs {
		if kv.Key == filter.LevelKey {
			continue
		}
		k := string(kv.Key)
		switch kv.Value.Type() {
		case attribute.BOOL:
			enc.AddBool(k, kv.Value.AsBool())
		case attribute.INT64:
			enc.AddInt64(k, kv.Value.AsInt64())
		case attribute.FLOAT64:
			enc.AddFloat64(k, kv.Value.AsFloat64())
		case attribute.STRING:
			enc.AddString(k, kv.Value.AsString())
		default:
			err := enc.AddReflected(k, kv.Value.AsInterface())
			if err != nil {
				return err
			}
		}
	}
	return nil
}

type events []sdktrace.Event

func (evs events) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, ev := range evs {
		err := enc.AppendObject(zapcore.ObjectMarshalerFunc(func(oe zapcore.ObjectEncoder) error {
			oe.AddString("name", ev.Name)
			oe.AddTime("time", ev.Time)
			if len(ev.Attributes) == 0 {
				return nil
			}
			return oe.AddObject("attributes", attributes(ev.Attributes))
		}))
		if err != nil {
			return err
		}
	}
	return nil
}
