package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
)

func newConfigCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML, secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := loadConfigFile(); err != nil {
				return err
			}
			cfg, err := buildConfig(baseLogger)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	return cmd
}
