// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package export

import (
	"context"
	"errors"

	"github.com/z5labs/spanbridge/health"
	"github.com/z5labs/spanbridge/internal/try"
	"github.com/z5labs/spanbridge/subscriber"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// executor owns the long lived tasks of one export process.
type executor struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	health health.Binary
}

func startExecutor(tasks []subscriber.Task, log *zap.Logger) *executor {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error {
			return try.Call(func() error {
				return task(gctx)
			})
		})
	}

	e := &executor{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(e.done)
		e.err = g.Wait()
		if e.err != nil && ctx.Err() == nil {
			e.health.Set(false)
			log.Error("background export task failed", zap.Error(e.err))
		}
	}()
	return e
}

// stop cancels every task and waits for them, or for ctx, whichever
// comes first.
func (e *executor) stop(ctx context.Context) error {
	e.cancel()
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if e.err == nil || errors.Is(e.err, context.Canceled) {
		return nil
	}
	return BackgroundError{Cause: e.err}
}
