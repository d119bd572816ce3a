// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"os"
	"path/filepath"

	"github.com/z5labs/spanbridge/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootFlags struct {
	configPath string
	envPrefix  string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "spanbridge",
		Short: "Run work inside a managed tracing pipeline",
		Long: `spanbridge reads a tracing document from a YAML file and the
environment, then either validates it or runs a command inside a span
exported through the pipeline it describes.

Environment variables prefixed with SPANBRIDGE_ override file values;
nested keys are separated by a double underscore, e.g.
SPANBRIDGE_LAYER__ENDPOINT.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "tracing document (YAML, rendered as a text/template)")
	cmd.PersistentFlags().StringVar(&flags.envPrefix, "env-prefix", "SPANBRIDGE", "prefix of environment overrides")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log pipeline diagnostics for humans")

	cmd.AddCommand(
		newValidateCmd(&flags),
		newExecCmd(&flags),
	)
	return cmd
}

// sources returns the config sources selected by the flags, lowest
// precedence first.
func (f *rootFlags) sources() []config.Source {
	var srcs []config.Source
	if f.configPath != "" {
		r := config.NewFileReader(os.DirFS(filepath.Dir(f.configPath)), filepath.Base(f.configPath))
		srcs = append(srcs, config.FromYaml(config.RenderTextTemplate(r)))
	}
	if f.envPrefix != "" {
		srcs = append(srcs, config.FromEnv(f.envPrefix))
	}
	return srcs
}

func (f *rootFlags) logger() (*zap.Logger, error) {
	if f.verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
