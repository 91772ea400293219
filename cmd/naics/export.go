package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/census-naics/internal/export"
)

func createExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <year>",
		Short: "Write a year's per-state CSV files",
		Args:  yearArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.export(cmd.Context(), parseYear(args), cmd.OutOrStdout())
		},
	}
}

func (a *app) export(ctx context.Context, year int, out io.Writer) error {
	log := a.log.WithField("year", year)
	exporter := export.NewExporter(export.StoreOpener(a.cfg.StorePath, year, log), export.Options{
		Dir:     a.cfg.ExportDir,
		Levels:  a.cfg.IndustryLevels,
		Workers: a.cfg.Workers,
		Logger:  log,
	})

	report, err := exporter.ExportYear(ctx, year)
	if report != nil {
		printf(out, "Exported %d: %d files, %d rows, %d states, %d skipped, %d failed\n",
			year, report.FilesWritten, report.TotalRows, len(report.States),
			len(report.SkippedStates), len(report.FailedStates))
		levels := make([]int, 0, len(report.RowsByLevel))
		for level := range report.RowsByLevel {
			levels = append(levels, level)
		}
		sort.Ints(levels)
		for _, level := range levels {
			printf(out, "  naics%d: %d rows\n", level, report.RowsByLevel[level])
		}
	}
	if err != nil {
		return classify(err)
	}
	if n := len(report.FailedStates); n > 0 {
		return withCode(exitStore, fmt.Errorf("export %d: %d states failed", year, n))
	}
	return nil
}
