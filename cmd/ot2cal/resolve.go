package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ot2-calibration/cmd"
)

func newResolveHostCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve-host",
		Short: "Print the robot host apply would talk to",
		Args:  noArgs,
		RunE: func(c *cobra.Command, args []string) error {
			target, err := cmd.Resolver(a.cfg).Resolve(c.Context(), a.cfg.Host)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, target.Host)
			return nil
		},
	}
}
