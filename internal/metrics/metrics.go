// Package metrics holds the pipeline's Prometheus counters. Batch commands do not serve
// an endpoint; they dump the default registry to a node_exporter textfile when asked.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "naics"

var (
	CensusRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "census_requests_total",
		Help:      "Census API requests by dataset and HTTP status.",
	}, []string{"dataset", "status"})

	CensusRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "census_retries_total",
		Help:      "Census API requests retried after a rate limit response.",
	}, []string{"dataset"})

	PopulateOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "populate_pairs_total",
		Help:      "Industry/year pairs processed by the population engine, by outcome.",
	}, []string{"year", "outcome"})

	RowsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_inserted_total",
		Help:      "Fact rows written to the store.",
	}, []string{"year"})

	RowsExported = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_exported_total",
		Help:      "Fact rows written to CSV, by industry level.",
	}, []string{"year", "level"})

	FilesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "export_files_total",
		Help:      "CSV files written by the exporter.",
	}, []string{"year"})

	ValidationMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validation_mismatches_total",
		Help:      "State/level pairs whose CSV row count differs from the store.",
	}, []string{"year"})
)

// Population outcomes.
const (
	OutcomeSkipped  = "skipped"
	OutcomeInserted = "inserted"
	OutcomeEmpty    = "empty"
	OutcomeFailed   = "failed"
)

// WriteTextfile writes the default registry to path in the text exposition format.
// An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics dir: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
