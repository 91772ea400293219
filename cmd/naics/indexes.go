package main

import (
	"github.com/spf13/cobra"

	"github.com/census-naics/internal/store"
)

func createIndexesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "indexes <year>",
		Short: "Create lookup indexes on a year's store",
		Args:  yearArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			year := parseYear(args)
			ctx := cmd.Context()

			st, err := store.Open(ctx, store.PathForYear(a.cfg.StorePath, year), store.Options{Logger: a.log})
			if err != nil {
				return classify(err)
			}
			defer st.Close()

			if err := st.CreateIndexes(ctx); err != nil {
				return classify(err)
			}
			printf(cmd.OutOrStdout(), "Indexes ready on %s\n", st.Path())
			return nil
		},
	}
}
