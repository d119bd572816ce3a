// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package propagate carries a caller's trace context into a call so that
// spans started during the call become its children.
//
// Each call captures a [Handle] from a [Source] and attaches it to the
// call's own context. Attaches form a stack that lives only in the
// contexts derived from the call, so nested and concurrent calls never
// see each other's parents. A missing or malformed context is reported
// according to the [FailurePolicy] and the call proceeds as a root.
package propagate
