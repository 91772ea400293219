package main

import (
	"github.com/spf13/cobra"

	"github.com/census-naics/internal/db"
	"github.com/census-naics/internal/publish"
	"github.com/census-naics/internal/store"
)

func createPublishCmd(a *app) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "publish <year>",
		Short: "Copy a year's facts into Postgres",
		Args:  yearArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			year := parseYear(args)
			ctx := cmd.Context()
			if cmd.Flags().Changed("dsn") {
				a.cfg.PublishDSN = dsn
			}

			conn, err := db.NewConnection(ctx, a.cfg.PublishDSN)
			if err != nil {
				return classify(err)
			}
			defer conn.Close()

			st, err := store.Open(ctx, store.PathForYear(a.cfg.StorePath, year), store.Options{ReadOnly: true, Logger: a.log})
			if err != nil {
				return classify(err)
			}
			defer st.Close()

			n, err := publish.NewPublisher(conn.DB, a.log).PublishYear(ctx, st, year)
			if err != nil {
				return classify(err)
			}
			printf(cmd.OutOrStdout(), "Published %d rows for %d to %s\n", n, year, publish.Table)
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres connection string (overrides NAICS_PUBLISH_DSN)")
	return cmd
}
