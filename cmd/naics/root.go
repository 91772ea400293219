package main

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/census-naics/internal/census"
	"github.com/census-naics/internal/config"
	"github.com/census-naics/internal/logging"
	"github.com/census-naics/internal/metrics"
	"github.com/census-naics/internal/naics"
)

// app carries what every subcommand needs once the root has loaded configuration.
type app struct {
	cfg   *config.Config
	log   logrus.FieldLogger
	runID string

	envFiles    []string
	storePath   string
	exportDir   string
	levels      []int
	workers     int
	logLevel    string
	metricsFile string
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "naics",
		Short:         "Census ZIP business patterns pipeline",
		Long:          `Populates per-year DuckDB stores from the Census ZBP/CBP API, exports per-state CSV files and reconciles them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return withCode(exitUsage, err)
	})

	pf := cmd.PersistentFlags()
	pf.StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load (default .env, .env.local)")
	pf.StringVar(&a.storePath, "store-path", "", "directory holding the per-year stores")
	pf.StringVar(&a.exportDir, "export-dir", "", "directory CSV files are written to")
	pf.IntSliceVar(&a.levels, "levels", nil, "industry levels to process")
	pf.IntVar(&a.workers, "workers", 0, "export worker count")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")

	cmd.AddCommand(createPopulateCmd(a))
	cmd.AddCommand(createExportCmd(a))
	cmd.AddCommand(createValidateCmd(a))
	cmd.AddCommand(createRunCmd(a))
	cmd.AddCommand(createLookupCmd(a))
	cmd.AddCommand(createGeographiesCmd(a))
	cmd.AddCommand(createIndexesCmd(a))
	cmd.AddCommand(createPublishCmd(a))
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.envFiles...)
	if err != nil {
		return withCode(exitUsage, err)
	}

	flags := cmd.Flags()
	if flags.Changed("store-path") {
		cfg.StorePath = a.storePath
	}
	if flags.Changed("export-dir") {
		cfg.ExportDir = a.exportDir
	}
	if flags.Changed("levels") {
		cfg.IndustryLevels = a.levels
	}
	if flags.Changed("workers") {
		cfg.Workers = a.workers
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = a.metricsFile
	}
	if err := cfg.Validate(); err != nil {
		return withCode(exitUsage, err)
	}

	logger, err := logging.New(cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return withCode(exitUsage, err)
	}
	a.cfg = cfg
	a.runID = uuid.NewString()
	a.log = logger.WithFields(logrus.Fields{"run_id": a.runID, "command": cmd.Name()})
	return nil
}

func (a *app) writeMetrics() {
	if a.cfg == nil || a.cfg.MetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
		a.log.WithError(err).Warn("Could not write metrics")
	}
}

func (a *app) censusClient() *census.Client {
	return census.NewClient(census.Options{
		BaseURL:           a.cfg.APIBaseURL,
		APIKey:            a.cfg.APIKey,
		Timeout:           a.cfg.HTTPTimeout,
		RequestsPerSecond: a.cfg.RequestsPerSecond,
		MaxRetries:        a.cfg.MaxRetries,
		Logger:            a.log,
	})
}

func (a *app) catalog() (naics.Catalog, error) {
	catalog, err := naics.LoadFile(a.cfg.IndustryListPath)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	return catalog, nil
}

// yearArg validates the single year argument before any command body runs.
func yearArg(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return withCode(exitUsage, fmt.Errorf("%s takes exactly one year argument", cmd.Name()))
	}
	if _, err := config.ParseYear(args[0]); err != nil {
		return withCode(exitUsage, err)
	}
	return nil
}

func parseYear(args []string) int {
	year, _ := config.ParseYear(args[0])
	return year
}

func printf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}
