// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package layer

import "io"

// OtlpFile writes spans as OTLP/JSON, one TracesData document per line.
type OtlpFile struct {
	Common

	// Path of the output file. Empty means standard output.
	Path string

	// Writer takes precedence over Path when set.
	Writer io.Writer
}

func (OtlpFile) isLayer() {}

// Validate implements the [Config] interface.
func (f OtlpFile) Validate() error {
	return f.Common.validate()
}

// OtlpFileOption configures an [OtlpFile] layer.
type OtlpFileOption interface {
	ApplyOtlpFile(*OtlpFile)
}

type otlpFileOptionFunc func(*OtlpFile)

func (f otlpFileOptionFunc) ApplyOtlpFile(cfg *OtlpFile) {
	f(cfg)
}

// OtlpFilePath sets the output file path.
func OtlpFilePath(path string) OtlpFileOption {
	return otlpFileOptionFunc(func(f *OtlpFile) {
		f.Path = path
	})
}

// OtlpFileWriter writes documents to w instead of a path.
func OtlpFileWriter(w io.Writer) OtlpFileOption {
	return otlpFileOptionFunc(func(f *OtlpFile) {
		f.Writer = w
	})
}

// NewOtlpFile builds and validates an [OtlpFile] layer.
func NewOtlpFile(opts ...OtlpFileOption) (OtlpFile, error) {
	var f OtlpFile
	for _, opt := range opts {
		opt.ApplyOtlpFile(&f)
	}
	return f, f.Validate()
}
