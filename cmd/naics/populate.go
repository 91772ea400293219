package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/census-naics/internal/etl"
	"github.com/census-naics/internal/store"
)

func createPopulateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "populate <year>",
		Short: "Fetch a year's business patterns into its store",
		Args:  yearArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.populate(cmd.Context(), parseYear(args), cmd.OutOrStdout())
		},
	}
}

func (a *app) populate(ctx context.Context, year int, out io.Writer) error {
	if err := a.cfg.RequireAPIKey(); err != nil {
		return withCode(exitUsage, err)
	}
	catalog, err := a.catalog()
	if err != nil {
		return err
	}

	log := a.log.WithField("year", year)
	st, err := store.Open(ctx, store.PathForYear(a.cfg.StorePath, year), store.Options{Logger: log})
	if err != nil {
		return classify(err)
	}
	defer st.Close()

	client := a.censusClient()

	bootstrap := etl.NewBootstrapper(st, client, catalog, etl.BootstrapConfig{
		GeographyStartYear: a.cfg.GeographyStartYear,
		GeographyEndYear:   a.cfg.GeographyEndYear,
		StartYear:          a.cfg.StartYear,
		EndYear:            a.cfg.EndYear,
	}, log)
	if _, err := bootstrap.Run(ctx); err != nil {
		return classify(err)
	}

	pipeline := etl.NewPipeline(st, client, catalog, etl.Options{
		Levels:    a.cfg.IndustryLevels,
		BatchSize: a.cfg.BatchSize,
		Logger:    log,
	})
	stats, err := pipeline.PopulateYear(ctx, year)
	printf(out, "Populated %d: %d candidates, %d skipped, %d fetched, %d empty, %d failed, %d rows inserted\n",
		year, stats.Candidates, stats.Skipped, stats.Fetched, stats.Empty, stats.Failed, stats.RowsInserted)
	for _, pair := range pipeline.Failed() {
		printf(out, "  failed naics %s for %d\n", pair.Code, pair.Year)
	}
	return classify(err)
}
