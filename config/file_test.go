// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"errors"
	"io"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

type fsFunc func(string) (fs.File, error)

func (f fsFunc) Open(path string) (fs.File, error) {
	return f(path)
}

func TestFileReader_Read(t *testing.T) {
	t.Run("will read the whole file", func(t *testing.T) {
		fsys := fstest.MapFS{
			"spanbridge.yaml": &fstest.MapFile{Data: []byte("scope: current\n")},
		}

		r := NewFileReader(fsys, "spanbridge.yaml")
		b, err := io.ReadAll(r)
		require.NoError(t, err)
		require.Equal(t, "scope: current\n", string(b))
		require.NoError(t, r.Close())
	})

	t.Run("will return a FileError", func(t *testing.T) {
		t.Run("if the fs.FS fails to open the file", func(t *testing.T) {
			opens := 0
			openErr := errors.New("failed to open")
			fsys := fsFunc(func(string) (fs.File, error) {
				opens++
				return nil, openErr
			})

			r := NewFileReader(fsys, "config.yaml")
			_, err := io.ReadAll(r)
			require.ErrorIs(t, err, openErr)

			var ferr FileError
			require.ErrorAs(t, err, &ferr)
			require.Equal(t, "config.yaml", ferr.Path)

			_, err = r.Read(make([]byte, 8))
			require.ErrorIs(t, err, openErr)
			require.Equal(t, 1, opens)
		})
	})
}

func TestFileReader_Close(t *testing.T) {
	t.Run("will not return an error", func(t *testing.T) {
		t.Run("if Close is called before the underlying file has been opened", func(t *testing.T) {
			fsys := fsFunc(func(string) (fs.File, error) {
				return nil, nil
			})

			r := NewFileReader(fsys, "config.yaml")
			require.NoError(t, r.Close())
		})
	})
}
