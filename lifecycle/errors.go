// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package lifecycle

import (
	"fmt"
	"time"
)

// UsageError is returned when a [Manager] is entered or exited out of order.
type UsageError struct {
	Op    string
	State State
}

// Error implements the [builtin.error] interface.
func (e UsageError) Error() string {
	return fmt.Sprintf("cannot %s tracing manager in state %s", e.Op, e.State)
}

// StartError is returned when activation fails. The manager is Failed
// and cannot be reused.
type StartError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e StartError) Error() string {
	return fmt.Sprintf("failed to start tracing: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e StartError) Unwrap() error {
	return e.Cause
}

// ShutdownError is returned when the pipeline did not flush and stop
// cleanly within its budget. Unflushed spans are lost.
type ShutdownError struct {
	Budget time.Duration
	Cause  error
}

// Error implements the [builtin.error] interface.
func (e ShutdownError) Error() string {
	return fmt.Sprintf("failed to shut down tracing within %s: %s", e.Budget, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ShutdownError) Unwrap() error {
	return e.Cause
}

// BudgetExceededError is the cause of a [ShutdownError] when the flush
// was still running once the budget ran out.
type BudgetExceededError struct {
	Budget time.Duration
	Cause  error
}

// Error implements the [builtin.error] interface.
func (e BudgetExceededError) Error() string {
	return fmt.Sprintf("shutdown budget of %s exceeded", e.Budget)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e BudgetExceededError) Unwrap() error {
	return e.Cause
}
