package main

import (
	"encoding/csv"

	"github.com/spf13/cobra"

	"github.com/census-naics/internal/store"
)

func createGeographiesCmd(a *app) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "geographies <year>",
		Short: "Print a year's geography dimension as CSV",
		Args:  yearArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			year := parseYear(args)
			ctx := cmd.Context()

			st, err := store.Open(ctx, store.PathForYear(a.cfg.StorePath, year), store.Options{ReadOnly: true, Logger: a.log})
			if err != nil {
				return classify(err)
			}
			defer st.Close()

			geos, err := st.Geographies(ctx)
			if err != nil {
				return classify(err)
			}

			w := csv.NewWriter(cmd.OutOrStdout())
			if err := w.Write([]string{"Zipcode", "City", "State"}); err != nil {
				return err
			}
			for _, g := range geos {
				if state != "" && g.State != state {
					continue
				}
				if err := w.Write([]string{g.GeoID, g.City, g.State}); err != nil {
					return err
				}
			}
			w.Flush()
			return w.Error()
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "only list this state")
	return cmd
}
