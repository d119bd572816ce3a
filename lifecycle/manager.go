// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/z5labs/spanbridge/export"
	"github.com/z5labs/spanbridge/health"
	"github.com/z5labs/spanbridge/internal/try"
	"github.com/z5labs/spanbridge/scope"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// State is a position in a [Manager]s life.
type State int32

const (
	Uninitialized State = iota
	Activating
	Active
	ShuttingDown
	Stopped
	Failed
)

var stateNames = [...]string{
	Uninitialized: "uninitialized",
	Activating:    "activating",
	Active:        "active",
	ShuttingDown:  "shutting_down",
	Stopped:       "stopped",
	Failed:        "failed",
}

// String implements the [fmt.Stringer] interface.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s is Stopped or Failed.
func (s State) Terminal() bool {
	return s == Stopped || s == Failed
}

// DefaultShutdownBudget is used when neither an option nor the layer
// provides a budget.
const DefaultShutdownBudget = 5 * time.Second

// Option configures a [Manager].
type Option func(*Manager)

// WithLogger sets the logger used for diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithShutdownBudget overrides the layer's shutdown budget.
func WithShutdownBudget(d time.Duration) Option {
	return func(m *Manager) {
		m.budget = d
	}
}

// WithRegisterer registers the pipeline's export counters with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		m.reg = reg
	}
}

// OnActive registers a [Hook] run once the pipeline has been built but
// before it is published. Spans started from [scope.Tracer] with the
// hook's context reach the pipeline. A failing hook fails activation and
// the pipeline is shut down within the shutdown budget.
func OnActive(h Hook) Option {
	return func(m *Manager) {
		m.onActive = append(m.onActive, h)
	}
}

// OnStopped registers a [Hook] run once the manager reached a terminal
// state after exit.
func OnStopped(h Hook) Option {
	return func(m *Manager) {
		m.onStopped = append(m.onStopped, h)
	}
}

// Manager owns one tracing pipeline from activation to shutdown.
type Manager struct {
	cfg       scope.Config
	log       *zap.Logger
	budget    time.Duration
	reg       prometheus.Registerer
	onActive  multiHook
	onStopped multiHook

	mu    sync.Mutex
	state State
	inst  *scope.Installation
}

// New returns a [Manager] for cfg. A nil cfg means [scope.Default].
func New(cfg scope.Config, opts ...Option) *Manager {
	if cfg == nil {
		cfg = scope.Default()
	}
	m := &Manager{
		cfg: cfg,
		log: zap.L(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

var _ health.Metric = (*Manager)(nil)

// Healthy implements [health.Metric]. Only an active manager whose
// export process is still delivering spans is healthy.
func (m *Manager) Healthy(ctx context.Context) bool {
	m.mu.Lock()
	state, inst := m.state, m.inst
	m.mu.Unlock()

	if state != Active || inst == nil {
		return false
	}
	return inst.Process().Health().Healthy(ctx)
}

// transition moves from one of the given states to next.
func (m *Manager) transition(next State, from ...State) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.state
	for _, s := range from {
		if cur != s {
			continue
		}
		m.state = next
		m.log.Debug("tracing manager state changed",
			zap.Stringer("from", cur),
			zap.Stringer("to", next),
		)
		return cur, true
	}
	return cur, false
}

// Enter builds and installs the pipeline. The returned context carries
// a current scope and must be used to reach it.
func (m *Manager) Enter(ctx context.Context) (context.Context, error) {
	cur, ok := m.transition(Activating, Uninitialized)
	if !ok {
		return ctx, UsageError{Op: "enter", State: cur}
	}

	opts := []scope.Option{
		scope.WithLogger(m.log),
		scope.WithActivation(m.onActive.Run, m.abort),
	}
	if m.reg != nil {
		opts = append(opts, scope.WithExportOptions(export.WithRegisterer(m.reg)))
	}

	// OnActive hooks run inside Install, before a global pipeline is
	// published, so a failing hook leaves no global state behind.
	sctx, inst, err := scope.Install(ctx, m.cfg, opts...)
	if err != nil {
		m.transition(Failed, Activating)
		m.log.Error("failed to start tracing", zap.Error(err))
		return ctx, StartError{Cause: err}
	}

	m.mu.Lock()
	m.inst = inst
	m.mu.Unlock()

	m.transition(Active, Activating)
	return sctx, nil
}

// abort shuts down a process whose activation failed.
func (m *Manager) abort(ctx context.Context, p *export.Process) error {
	return shutdownWithin(context.WithoutCancel(ctx), p.Shutdown, m.shutdownBudget(p))
}

// Exit shuts the pipeline down within the shutdown budget. bodyErr is
// the outcome of the guarded work; it is always part of the returned
// error so a shutdown failure never hides it. Cancellation of ctx does
// not cut the shutdown short, only the budget does.
func (m *Manager) Exit(ctx context.Context, bodyErr error) error {
	cur, ok := m.transition(ShuttingDown, Active)
	if !ok {
		return errors.Join(bodyErr, UsageError{Op: "exit", State: cur})
	}

	m.mu.Lock()
	inst := m.inst
	m.mu.Unlock()

	budget := m.shutdownBudget(inst.Process())
	err := shutdownWithin(context.WithoutCancel(ctx), inst.Shutdown, budget)

	var shutdownErr error
	if err != nil {
		m.transition(Failed, ShuttingDown)
		shutdownErr = ShutdownError{Budget: budget, Cause: err}
		m.log.Error("tracing did not shut down cleanly", zap.Error(err), zap.Duration("budget", budget))
	} else {
		m.transition(Stopped, ShuttingDown)
	}

	hookErr := m.onStopped.Run(ctx)
	return errors.Join(bodyErr, shutdownErr, hookErr)
}

// Run enters, runs body and exits. A panic in body propagates after the
// pipeline has been shut down.
func (m *Manager) Run(ctx context.Context, body func(context.Context) error) error {
	ctx, err := m.Enter(ctx)
	if err != nil {
		return err
	}

	bodyErr := try.Call(func() error {
		return body(ctx)
	})

	err = m.Exit(ctx, bodyErr)
	var perr try.PanicError
	if errors.As(bodyErr, &perr) {
		m.log.Error("traced body panicked", zap.Error(err))
		panic(perr.Value)
	}
	return err
}

func (m *Manager) shutdownBudget(p *export.Process) time.Duration {
	if m.budget > 0 {
		return m.budget
	}
	if b := p.ShutdownBudget(); b > 0 {
		return b
	}
	return DefaultShutdownBudget
}

// shutdownWithin races the shutdown against the budget. It returns as
// soon as either finishes, leaving a stuck shutdown running in the
// background.
func shutdownWithin(ctx context.Context, shutdown func(context.Context) error, budget time.Duration) error {
	sctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- try.Call(func() error {
			return shutdown(sctx)
		})
	}()

	select {
	case err := <-done:
		if err != nil && sctx.Err() != nil {
			return BudgetExceededError{Budget: budget, Cause: err}
		}
		return err
	case <-sctx.Done():
		cause := sctx.Err()
		select {
		case err := <-done:
			if err == nil {
				return nil
			}
			cause = err
		default:
		}
		return BudgetExceededError{Budget: budget, Cause: cause}
	}
}
