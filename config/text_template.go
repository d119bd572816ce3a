// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/template"
)

// TemplateOption configures a [TextTemplateRenderer].
type TemplateOption func(*TextTemplateRenderer)

// TemplateFunc registers f under name. It replaces a builtin of the same
// name.
func TemplateFunc(name string, f any) TemplateOption {
	return func(ttr *TextTemplateRenderer) {
		ttr.funcs[name] = f
	}
}

// TemplateDelims sets the action delimiters. An empty delimiter stands
// for the corresponding default: {{ or }}.
func TemplateDelims(left, right string) TemplateOption {
	return func(ttr *TextTemplateRenderer) {
		ttr.left = left
		ttr.right = right
	}
}

// TextTemplateRenderer renders a text/template read from an underlying
// reader the first time it is read, then serves the rendered bytes.
//
// Templates have two builtins:
//
//	{{ env "OTEL_EXPORTER_OTLP_ENDPOINT" }}
//	{{ env "SAMPLE_RATIO" | default "1.0" }}
type TextTemplateRenderer struct {
	src   io.Reader
	left  string
	right string
	funcs template.FuncMap

	once     sync.Once
	rendered *bytes.Reader
	err      error
}

// RenderTextTemplate returns a [TextTemplateRenderer] over r.
func RenderTextTemplate(r io.Reader, opts ...TemplateOption) *TextTemplateRenderer {
	ttr := &TextTemplateRenderer{
		src: r,
		funcs: template.FuncMap{
			"env":     os.Getenv,
			"default": defaultValue,
		},
	}
	for _, opt := range opts {
		opt(ttr)
	}
	return ttr
}

func defaultValue(fallback, v string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// TemplateError is returned when a config template cannot be parsed
// or executed.
type TemplateError struct {
	// Stage is "parse" or "execute".
	Stage string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e TemplateError) Error() string {
	return fmt.Sprintf("failed to %s config template: %s", e.Stage, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e TemplateError) Unwrap() error {
	return e.Cause
}

// Read implements the [io.Reader] interface. A render failure is
// returned by every call.
func (ttr *TextTemplateRenderer) Read(b []byte) (int, error) {
	ttr.once.Do(func() {
		ttr.rendered, ttr.err = ttr.render()
	})
	if ttr.err != nil {
		return 0, ttr.err
	}
	return ttr.rendered.Read(b)
}

func (ttr *TextTemplateRenderer) render() (*bytes.Reader, error) {
	text, err := io.ReadAll(ttr.src)
	if c, ok := ttr.src.(io.Closer); ok {
		// Best effort, the template is already in memory.
		_ = c.Close()
	}
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New("config").
		Delims(ttr.left, ttr.right).
		Funcs(ttr.funcs).
		Option("missingkey=error").
		Parse(string(text))
	if err != nil {
		return nil, TemplateError{Stage: "parse", Cause: err}
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, nil)
	if err != nil {
		return nil, TemplateError{Stage: "execute", Cause: err}
	}
	return bytes.NewReader(buf.Bytes()), nil
}
