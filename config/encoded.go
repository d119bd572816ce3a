// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/z5labs/spanbridge/internal/try"

	"gopkg.in/yaml.v3"
)

// Format decodes a whole serialized document.
type Format struct {
	Name   string
	decode func([]byte, any) error
}

var (
	YAML = Format{Name: "yaml", decode: yaml.Unmarshal}
	JSON = Format{Name: "json", decode: json.Unmarshal}
)

// Encoded is a [Source] backed by a serialized document.
type Encoded struct {
	r      io.Reader
	format Format
}

// FromYaml returns a [Source] which applies the YAML document read from r.
func FromYaml(r io.Reader) Encoded {
	return Encoded{r: r, format: YAML}
}

// FromJson returns a [Source] which applies the JSON document read from r.
func FromJson(r io.Reader) Encoded {
	return Encoded{r: r, format: JSON}
}

// FromFile returns a [Source] for the file at name in fsys. Files ending
// in .json are decoded as JSON, anything else as YAML. The file is only
// opened once the source is applied.
func FromFile(fsys fs.FS, name string) Encoded {
	format := YAML
	if path.Ext(name) == ".json" {
		format = JSON
	}
	return Encoded{r: NewFileReader(fsys, name), format: format}
}

// DecodeError is returned when a document is not valid in its format.
type DecodeError struct {
	Format string
	Cause  error
}

// Error implements the [builtin.error] interface.
func (e DecodeError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Format, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e DecodeError) Unwrap() error {
	return e.Cause
}

// Apply implements the [Source] interface. An empty document applies
// nothing. A reader that is also an [io.Closer] is closed.
func (src Encoded) Apply(store Store) (err error) {
	c, _ := src.r.(io.Closer)
	defer try.Close(&err, c)

	b, err := io.ReadAll(src.r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}

	m := make(map[string]any)
	err = src.format.decode(b, &m)
	if err != nil {
		return DecodeError{Format: src.format.Name, Cause: err}
	}
	return Map(m).Apply(store)
}
