package main

import (
	"encoding/csv"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/census-naics/internal/store"
)

func createLookupCmd(a *app) *cobra.Command {
	var (
		zip   string
		level int
	)
	cmd := &cobra.Command{
		Use:   "lookup <year>",
		Short: "Print one zip code's facts for a year as CSV",
		Args:  yearArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.ValidateZip(zip); err != nil {
				return withCode(exitUsage, err)
			}
			year := parseYear(args)
			ctx := cmd.Context()

			st, err := store.Open(ctx, store.PathForYear(a.cfg.StorePath, year), store.Options{ReadOnly: true, Logger: a.log})
			if err != nil {
				return classify(err)
			}
			defer st.Close()

			facts, err := st.FactsForZip(ctx, zip, year, level)
			if err != nil {
				return classify(err)
			}

			w := csv.NewWriter(cmd.OutOrStdout())
			if err := w.Write([]string{"Zipcode", "NaicsCode", "IndustryLevel", "Establishments", "Employees", "Payroll"}); err != nil {
				return err
			}
			for _, f := range facts {
				err := w.Write([]string{
					f.GeoID,
					f.NaicsCode,
					strconv.Itoa(f.IndustryLevel),
					strconv.FormatInt(f.Establishments, 10),
					strconv.FormatInt(f.Employees, 10),
					strconv.FormatInt(f.Payroll, 10),
				})
				if err != nil {
					return err
				}
			}
			w.Flush()
			return w.Error()
		},
	}
	cmd.Flags().StringVar(&zip, "zip", "", "five digit zip code")
	cmd.Flags().IntVar(&level, "level", 0, "industry level filter (0 for all)")
	return cmd
}
