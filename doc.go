// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package spanbridge runs work inside a managed tracing pipeline.
//
// A pipeline is a layer (where spans go), an export discipline (batch or
// simple) and a scope (process wide or bound to a context). It is
// described by a [Document], usually read from YAML and the environment:
//
//	scope: current
//	export: batch
//	layer:
//	  kind: otlp_network
//	  endpoint: https://collector:4317
//	  filter: info,db=debug
//
// [Run] reads the document, activates the pipeline, runs the body and
// shuts the pipeline down within its budget. Errors returned by the body
// are never hidden by shutdown failures:
//
//	err := spanbridge.Run(ctx, spanbridge.BodyFunc(work),
//	    config.FromFile(os.DirFS("."), "spanbridge.yaml"),
//	    config.FromEnv("SPANBRIDGE"),
//	)
//
// Spans are started from [scope.Tracer] with the context the body
// receives. Calls that should inherit a caller's trace context go through
// package propagate.
package spanbridge
