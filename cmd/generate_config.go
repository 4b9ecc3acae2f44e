// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/featurebasedb/bulkload/ctl"
)

var generateConf *ctl.GenerateConfigCommand

func newGenerateConfigCommand(stdin io.Reader, stdout io.Writer, stderr io.Writer) *cobra.Command {
	generateConf = ctl.NewGenerateConfigCommand(stdin, stdout, stderr)
	confCmd := &cobra.Command{
		Use:   "generate-config",
		Short: "Print the default configuration.",
		Long: `generate-config prints the default load configuration to stdout
in the TOML format read by --config.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return generateConf.Run(cmd.Context())
		},
	}

	return confCmd
}
