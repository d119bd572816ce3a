// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"github.com/z5labs/spanbridge"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newValidateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a tracing document and print it with overrides applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := spanbridge.ReadDocument(flags.sources()...)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			err = enc.Encode(doc)
			if err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
