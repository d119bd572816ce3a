// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/z5labs/spanbridge"
	"github.com/z5labs/spanbridge/propagate"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// exitCodeError carries a child's non-zero exit status to main.
type exitCodeError struct {
	code  int
	cause error
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.code)
}

func (e exitCodeError) Unwrap() error {
	return e.cause
}

func newExecCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exec -- command [args...]",
		Short: "Run a command inside a span",
		Long: `exec runs a command inside a span. The span is a child of TRACEPARENT
when it is set, and the command receives TRACEPARENT and TRACESTATE
pointing at the span so its own spans join the same trace.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := flags.logger()
			if err != nil {
				return err
			}
			defer log.Sync()

			r := spanbridge.NewRunner(
				spanbridge.WithLogger(log),
				spanbridge.WithSignalNotifications(os.Interrupt, syscall.SIGTERM),
			)
			body := commandBody{
				args:   args,
				stdin:  cmd.InOrStdin(),
				stdout: cmd.OutOrStdout(),
				stderr: cmd.ErrOrStderr(),
				log:    log,
			}
			return r.Run(cmd.Context(), body, flags.sources()...)
		},
	}
}

type commandBody struct {
	args   []string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	log    *zap.Logger
}

// Run implements the [spanbridge.Body] interface.
func (b commandBody) Run(ctx context.Context) error {
	return propagate.Span(
		ctx,
		propagate.EnvSource(),
		"exec "+b.args[0],
		b.run,
		propagate.WithLogger(b.log),
		propagate.WithSpanOptions(
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("process.executable.name", b.args[0]),
				attribute.StringSlice("process.command_args", b.args),
			),
		),
	)
}

func (b commandBody) run(ctx context.Context) error {
	carrier := propagation.MapCarrier{}
	propagate.Inject(ctx, carrier)

	c := exec.CommandContext(ctx, b.args[0], b.args[1:]...)
	c.Stdin = b.stdin
	c.Stdout = b.stdout
	c.Stderr = b.stderr
	c.Env = childEnv(os.Environ(), carrier)

	err := c.Run()

	span := trace.SpanFromContext(ctx)
	if c.ProcessState != nil {
		span.SetAttributes(attribute.Int("process.exit.code", c.ProcessState.ExitCode()))
	}

	var xerr *exec.ExitError
	if errors.As(err, &xerr) {
		return exitCodeError{code: xerr.ExitCode(), cause: err}
	}
	return err
}

// childEnv replaces any trace context in environ with carrier's.
func childEnv(environ []string, carrier propagation.MapCarrier) []string {
	env := make([]string, 0, len(environ)+2)
	for _, kv := range environ {
		if strings.HasPrefix(kv, propagate.TraceparentEnv+"=") || strings.HasPrefix(kv, propagate.TracestateEnv+"=") {
			continue
		}
		env = append(env, kv)
	}
	if v := carrier.Get(propagate.TraceparentKey); v != "" {
		env = append(env, propagate.TraceparentEnv+"="+v)
	}
	if v := carrier.Get(propagate.TracestateKey); v != "" {
		env = append(env, propagate.TracestateEnv+"="+v)
	}
	return env
}
