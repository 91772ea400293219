package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/census-naics/internal/store"
	"github.com/census-naics/internal/validation"
)

func createValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <year>",
		Short: "Reconcile a year's CSV row counts with its store",
		Long:  `Exits 0 when every state and level matches, 1 on any mismatch or unreadable store.`,
		Args:  yearArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.validate(cmd.Context(), parseYear(args), cmd.OutOrStdout())
		},
	}
}

func (a *app) validate(ctx context.Context, year int, out io.Writer) error {
	log := a.log.WithField("year", year)
	st, err := store.Open(ctx, store.PathForYear(a.cfg.StorePath, year), store.Options{ReadOnly: true, Logger: log})
	if err != nil {
		return validationError(out, year, err)
	}
	defer st.Close()

	v := validation.NewValidator(st, validation.Options{
		Dir:    a.cfg.ExportDir,
		Levels: a.cfg.IndustryLevels,
		Logger: log,
	})
	result, err := v.ValidateYear(ctx, year)
	if err != nil {
		return validationError(out, year, err)
	}

	mismatches := result.Mismatches()
	for _, m := range mismatches {
		missing := ""
		if m.FileMissing {
			missing = " (file missing)"
		}
		printf(out, "  %s naics%d: store %d, csv %d%s\n", m.State, m.Level, m.StoreCount, m.CSVCount, missing)
	}
	if !result.Passed {
		printf(out, "Validation failed for %d: %d of %d state/level pairs differ\n", year, len(mismatches), len(result.Pairs))
		return withCode(exitMismatch, fmt.Errorf("%w for %d", errValidationFailed, year))
	}
	printf(out, "Validation passed for %d: %d state/level pairs match\n", year, len(result.Pairs))
	return nil
}

// validationError reports a validation that could not finish as failed. Interrupts keep
// their own exit code.
func validationError(out io.Writer, year int, err error) error {
	err = classify(err)
	if exitCode(err) == exitInterrupted {
		return err
	}
	printf(out, "Validation failed for %d: %v\n", year, err)
	return withCode(exitMismatch, err)
}
