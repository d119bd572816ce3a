// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"fmt"
	"io/fs"
	"sync"
)

// FileReader opens its file on the first Read. A failed open is
// remembered and returned by every later Read.
type FileReader struct {
	fsys fs.FS
	path string

	open sync.Once
	file fs.File
	err  error
}

// NewFileReader returns a [FileReader] for path in fsys.
func NewFileReader(fsys fs.FS, path string) *FileReader {
	return &FileReader{
		fsys: fsys,
		path: path,
	}
}

// FileError is returned when a config file cannot be opened.
type FileError struct {
	Path  string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e FileError) Error() string {
	return fmt.Sprintf("failed to open config file %s: %s", e.Path, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e FileError) Unwrap() error {
	return e.Cause
}

// Read implements the [io.Reader] interface.
func (r *FileReader) Read(b []byte) (int, error) {
	r.open.Do(func() {
		r.file, r.err = r.fsys.Open(r.path)
		if r.err != nil {
			r.err = FileError{Path: r.path, Cause: r.err}
		}
	})
	if r.err != nil {
		return 0, r.err
	}
	return r.file.Read(b)
}

// Close implements the [io.Closer] interface. It is a no-op if the file
// was never opened.
func (r *FileReader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
