// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package layer

import "io"

// File writes human readable spans to a file or stream.
//
// The zero value writes unbuffered text lines to standard output.
type File struct {
	Common

	// Path of the output file. Empty means standard output.
	Path string

	// Writer takes precedence over Path when set.
	Writer io.Writer

	// Pretty renders multi-line, indented output.
	Pretty bool

	// JSON renders one JSON document per span instead of text.
	JSON bool
}

func (File) isLayer() {}

// Validate implements the [Config] interface.
func (f File) Validate() error {
	return f.Common.validate()
}

// FileOption configures a [File] layer.
type FileOption interface {
	ApplyFile(*File)
}

type fileOptionFunc func(*File)

func (f fileOptionFunc) ApplyFile(cfg *File) {
	f(cfg)
}

// FilePath sets the output file path.
func FilePath(path string) FileOption {
	return fileOptionFunc(func(f *File) {
		f.Path = path
	})
}

// FileWriter writes spans to w instead of a path.
func FileWriter(w io.Writer) FileOption {
	return fileOptionFunc(func(f *File) {
		f.Writer = w
	})
}

// Pretty enables multi-line output.
func Pretty() FileOption {
	return fileOptionFunc(func(f *File) {
		f.Pretty = true
	})
}

// JSON enables JSON output.
func JSON() FileOption {
	return fileOptionFunc(func(f *File) {
		f.JSON = true
	})
}

// NewFile builds and validates a [File] layer.
func NewFile(opts ...FileOption) (File, error) {
	var f File
	for _, opt := range opts {
		opt.ApplyFile(&f)
	}
	return f, f.Validate()
}
