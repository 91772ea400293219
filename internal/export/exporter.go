// Package export writes a year's facts as per-state, per-industry-level CSV files.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/census-naics/internal/logging"
	"github.com/census-naics/internal/metrics"
	"github.com/census-naics/internal/store"
)

// Header is the first line of every exported file.
var Header = []string{"Zipcode", "NaicsCode", "Establishments", "Employees", "Payroll"}

// ErrInterrupted is returned with a partial report when the context is cancelled.
var ErrInterrupted = errors.New("export interrupted")

// Reader is the read side of a year's store used by the exporter.
type Reader interface {
	States(ctx context.Context) ([]string, error)
	ZipCodesForState(ctx context.Context, state string) ([]string, error)
	ExportRows(ctx context.Context, zips []string, year, level int) ([]store.ExportRow, error)
	Close() error
}

// Opener returns a fresh store handle. Every worker opens its own.
type Opener func(ctx context.Context) (Reader, error)

// StoreOpener opens the year's store read-only.
func StoreOpener(base string, year int, log logrus.FieldLogger) Opener {
	path := store.PathForYear(base, year)
	return func(ctx context.Context) (Reader, error) {
		s, err := store.Open(ctx, path, store.Options{ReadOnly: true, Logger: log})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// FilePath is where a state's file for one level and year is written.
func FilePath(dir, state string, level, year int) string {
	return filepath.Join(dir, state, fmt.Sprintf("US-%s-census-naics%d-zip-%d.csv", state, level, year))
}

// Options configures an Exporter.
type Options struct {
	Dir     string
	Levels  []int
	Workers int
	Logger  logrus.FieldLogger
}

// Report summarizes an export run.
type Report struct {
	Year          int
	FilesWritten  int
	RowsByLevel   map[int]int
	TotalRows     int
	States        []string
	SkippedStates []string
	FailedStates  map[string]error
}

// Exporter partitions a year's facts into CSV files, one worker per state at a time.
type Exporter struct {
	open    Opener
	dir     string
	levels  []int
	workers int
	log     logrus.FieldLogger
}

// NewExporter creates an exporter.
func NewExporter(open Opener, opts Options) *Exporter {
	e := &Exporter{
		open:    open,
		dir:     opts.Dir,
		levels:  opts.Levels,
		workers: opts.Workers,
		log:     opts.Logger,
	}
	if len(e.levels) == 0 {
		e.levels = []int{2, 5, 6}
	}
	if e.workers <= 0 {
		e.workers = 4
	}
	if e.log == nil {
		e.log = logging.Discard()
	}
	return e
}

// bucket is one unit of parallel work: a state, or the sentinel bucket.
type bucket struct {
	state string
	zips  []string
}

type stateResult struct {
	state   string
	files   int
	rows    map[int]int
	skipped bool
	err     error
}

// ExportYear writes every state's files for year. Per-state failures are collected in the
// report; the returned error is reserved for setup failures and interruption.
func (e *Exporter) ExportYear(ctx context.Context, year int) (*Report, error) {
	log := e.log.WithField("year", year)
	defer logging.Timing(log, fmt.Sprintf("export %d", year))()

	report := &Report{
		Year:         year,
		RowsByLevel:  make(map[int]int),
		FailedStates: make(map[string]error),
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}

	states, err := e.listStates(ctx)
	if err != nil {
		return report, err
	}
	buckets := make([]bucket, 0, len(states)+1)
	for _, s := range states {
		buckets = append(buckets, bucket{state: s})
	}
	buckets = append(buckets, bucket{state: store.NotSpecified, zips: []string{store.SentinelGeoID}})

	jobs := make(chan bucket)
	results := make(chan stateResult, len(buckets))

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			e.worker(ctx, workerID, year, jobs, results)
		}(i)
	}

	go func() {
		defer close(jobs)
		for _, b := range buckets {
			select {
			case <-ctx.Done():
				return
			case jobs <- b:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		switch {
		case res.err != nil:
			report.FailedStates[res.state] = res.err
			log.WithError(res.err).WithField("state", res.state).Error("State export failed")
		case res.skipped:
			report.SkippedStates = append(report.SkippedStates, res.state)
		default:
			report.States = append(report.States, res.state)
		}
		report.FilesWritten += res.files
		for level, n := range res.rows {
			report.RowsByLevel[level] += n
			report.TotalRows += n
		}
	}
	sort.Strings(report.States)
	sort.Strings(report.SkippedStates)

	log.WithFields(logrus.Fields{
		"files":   report.FilesWritten,
		"rows":    report.TotalRows,
		"states":  len(report.States),
		"skipped": len(report.SkippedStates),
		"failed":  len(report.FailedStates),
	}).Info("Export finished")

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	return report, nil
}

func (e *Exporter) listStates(ctx context.Context) ([]string, error) {
	r, err := e.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer r.Close()

	states, err := r.States(ctx)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	return states, nil
}

func (e *Exporter) worker(ctx context.Context, workerID, year int, jobs <-chan bucket, results chan<- stateResult) {
	log := e.log.WithFields(logrus.Fields{"year": year, "worker": workerID})

	var (
		reader  Reader
		openErr error
	)
	defer func() {
		if reader != nil {
			reader.Close()
		}
	}()

	for b := range jobs {
		if ctx.Err() != nil {
			return
		}
		if reader == nil && openErr == nil {
			reader, openErr = e.open(ctx)
		}
		if openErr != nil {
			results <- stateResult{state: b.state, err: fmt.Errorf("open store: %w", openErr)}
			continue
		}
		results <- e.exportState(ctx, reader, b, year, log.WithField("state", b.state))
	}
}

func (e *Exporter) exportState(ctx context.Context, r Reader, b bucket, year int, log logrus.FieldLogger) stateResult {
	res := stateResult{state: b.state, rows: make(map[int]int)}

	zips := b.zips
	if zips == nil {
		var err error
		zips, err = r.ZipCodesForState(ctx, b.state)
		if err != nil {
			res.err = err
			return res
		}
	}
	if len(zips) == 0 {
		log.Warn("No zip codes for state, skipping")
		res.skipped = true
		return res
	}

	yearLabel := strconv.Itoa(year)
	for _, level := range e.levels {
		rows, err := r.ExportRows(ctx, zips, year, level)
		if err != nil {
			res.err = fmt.Errorf("level %d: %w", level, err)
			return res
		}
		path := FilePath(e.dir, b.state, level, year)
		if err := writeCSV(path, rows); err != nil {
			res.err = err
			return res
		}
		res.files++
		res.rows[level] = len(rows)
		metrics.FilesWritten.WithLabelValues(yearLabel).Inc()
		metrics.RowsExported.WithLabelValues(yearLabel, strconv.Itoa(level)).Add(float64(len(rows)))
		log.WithFields(logrus.Fields{"level": level, "rows": len(rows)}).Debug("Wrote file")
	}
	return res
}

// writeCSV writes rows to a temporary file and renames it over path.
func writeCSV(path string, rows []store.ExportRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	w := csv.NewWriter(file)
	if err := w.Write(Header); err != nil {
		file.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Zipcode,
			row.NaicsCode,
			strconv.FormatInt(row.Establishments, 10),
			strconv.FormatInt(row.Employees, 10),
			strconv.FormatInt(row.Payroll, 10),
		}
		if err := w.Write(record); err != nil {
			file.Close()
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush %s: %w", tmp, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
