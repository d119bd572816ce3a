// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package propagate

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
)

type stackKey struct{}

// frame is one entry of a call's attach stack. Frames are never mutated
// once linked, so concurrent calls sharing a parent context cannot
// observe each other's pushes.
type frame struct {
	handle Handle
	parent *frame
}

// Guard marks the end of an [Attach]. The attach only exists in the
// context Attach returned, so the previous parent is back in effect as
// soon as the caller returns to the context it had before. The guard
// hands that context back and records that the call ended.
type Guard struct {
	prev     context.Context
	released atomic.Bool
}

// Attach makes h the parent of spans started from the returned context.
// The caller must Release the guard when the call ends.
func Attach(ctx context.Context, h Handle) (context.Context, *Guard) {
	parent, _ := ctx.Value(stackKey{}).(*frame)
	attached := context.WithValue(ctx, stackKey{}, &frame{handle: h, parent: parent})
	attached = trace.ContextWithRemoteSpanContext(attached, h.SpanContext())
	return attached, &Guard{prev: ctx}
}

// Release returns the context that was current before the attach. It
// changes no context; it only marks the guard released. It is safe to
// call more than once.
func (g *Guard) Release() context.Context {
	g.released.Store(true)
	return g.prev
}

// Released reports whether Release has been called.
func (g *Guard) Released() bool {
	return g.released.Load()
}

// Current returns the innermost attached handle.
func Current(ctx context.Context) (Handle, bool) {
	f, ok := ctx.Value(stackKey{}).(*frame)
	if !ok {
		return Handle{}, false
	}
	return f.handle, true
}

// Depth returns how many attaches are active in ctx.
func Depth(ctx context.Context) int {
	f, _ := ctx.Value(stackKey{}).(*frame)
	n := 0
	for ; f != nil; f = f.parent {
		n++
	}
	return n
}
