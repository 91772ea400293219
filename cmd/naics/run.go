package main

import (
	"github.com/spf13/cobra"
)

func createRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <year>",
		Short: "Populate, export and validate a year",
		Args:  yearArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			year := parseYear(args)
			out := cmd.OutOrStdout()

			if err := a.populate(ctx, year, out); err != nil {
				return err
			}
			if err := a.export(ctx, year, out); err != nil {
				return err
			}
			return a.validate(ctx, year, out)
		},
	}
}
