package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ingest/internal/config"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			issues := a.cfg.Validate()
			for _, iss := range issues {
				fmt.Fprintln(cmd.ErrOrStderr(), iss.String())
			}
			if config.HasErrors(issues) {
				return fmt.Errorf("configuration is invalid")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}
}
