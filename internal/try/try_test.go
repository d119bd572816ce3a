// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package try

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecover(t *testing.T) {
	t.Run("will update the error ref value", func(t *testing.T) {
		t.Run("if a panic is successfully recovered from and the ref is set to nil", func(t *testing.T) {
			f := func() (err error) {
				defer Recover(&err)
				panic("hello world")
			}

			err := f()

			var perr PanicError
			if !assert.ErrorAs(t, err, &perr) {
				return
			}
			if !assert.NotEmpty(t, perr.Error()) {
				return
			}
			if !assert.Equal(t, "hello world", perr.Value) {
				return
			}
		})

		t.Run("if a panic is successfully recovered from and the ref is set to a non-nil value", func(t *testing.T) {
			funcErr := errors.New("error value")
			panicErr := errors.New("panic error")
			f := func() (err error) {
				defer Recover(&err)
				err = funcErr
				panic(panicErr)
			}

			err := f()

			if !assert.ErrorIs(t, err, funcErr) {
				return
			}

			var perr PanicError
			if !assert.ErrorAs(t, err, &perr) {
				return
			}
			if !assert.NotEmpty(t, perr.Error()) {
				return
			}
			if !assert.ErrorIs(t, perr, panicErr) {
				return
			}
		})
	})

	t.Run("will not update the error ref value", func(t *testing.T) {
		t.Run("if no panic is occurred", func(t *testing.T) {
			f := func() (err error) {
				defer Recover(&err)
				return nil
			}

			err := f()
			if !assert.Nil(t, err) {
				return
			}
		})
	})
}

func TestCall(t *testing.T) {
	t.Run("will return the error from the func", func(t *testing.T) {
		t.Run("if it does not panic", func(t *testing.T) {
			funcErr := errors.New("func error")

			err := Call(func() error {
				return funcErr
			})
			if !assert.ErrorIs(t, err, funcErr) {
				return
			}
		})
	})

	t.Run("will return a PanicError", func(t *testing.T) {
		t.Run("if the func panics", func(t *testing.T) {
			err := Call(func() error {
				panic("boom")
			})

			var perr PanicError
			if !assert.ErrorAs(t, err, &perr) {
				return
			}
			if !assert.Equal(t, "boom", perr.Value) {
				return
			}
			if !assert.Nil(t, perr.Unwrap()) {
				return
			}
		})
	})
}

func TestRepanic(t *testing.T) {
	t.Run("will panic with the original value", func(t *testing.T) {
		t.Run("if the error holds a PanicError", func(t *testing.T) {
			err := Call(func() error {
				panic("boom")
			})

			assert.PanicsWithValue(t, "boom", func() {
				Repanic(err)
			})
		})
	})

	t.Run("will not panic", func(t *testing.T) {
		t.Run("if the error is not a PanicError", func(t *testing.T) {
			assert.NotPanics(t, func() {
				Repanic(errors.New("plain"))
			})
		})

		t.Run("if the error is nil", func(t *testing.T) {
			assert.NotPanics(t, func() {
				Repanic(nil)
			})
		})
	})
}

type closeFunc func() error

func (f closeFunc) Close() error {
	return f()
}

func TestClose(t *testing.T) {
	t.Run("will update the error ref value", func(t *testing.T) {
		t.Run("if the close fails and the ref value is nil", func(t *testing.T) {
			closeErr := errors.New("close failed")
			c := closeFunc(func() error {
				return closeErr
			})

			f := func() (err error) {
				defer Close(&err, c)
				return nil
			}

			err := f()

			var cerr CloseError
			if !assert.ErrorAs(t, err, &cerr) {
				return
			}
			if !assert.NotEmpty(t, cerr.Error()) {
				return
			}
			if !assert.ErrorIs(t, cerr, closeErr) {
				return
			}
		})

		t.Run("if the close fails and the ref value is non-nil", func(t *testing.T) {
			closeErr := errors.New("close failed")
			c := closeFunc(func() error {
				return closeErr
			})

			funcErr := errors.New("func error")
			f := func() (err error) {
				defer Close(&err, c)
				return funcErr
			}

			err := f()

			if !assert.ErrorIs(t, err, funcErr) {
				return
			}

			var cerr CloseError
			if !assert.ErrorAs(t, err, &cerr) {
				return
			}
			if !assert.NotEmpty(t, cerr.Error()) {
				return
			}
			if !assert.ErrorIs(t, cerr, closeErr) {
				return
			}
		})
	})

	t.Run("will change the error ref value", func(t *testing.T) {
		t.Run("if the value is not an io.Closer", func(t *testing.T) {
			funcErr := errors.New("func error")
			f := func() (err error) {
				defer Close(&err, nil)
				return funcErr
			}

			err := f()
			if !assert.ErrorIs(t, err, funcErr) {
				return
			}
		})

		t.Run("if Close succeeds", func(t *testing.T) {
			c := closeFunc(func() error {
				return nil
			})

			funcErr := errors.New("func error")
			f := func() (err error) {
				defer Close(&err, c)
				return funcErr
			}

			err := f()
			if !assert.ErrorIs(t, err, funcErr) {
				return
			}
		})
	})
}
