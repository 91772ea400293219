package etl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/census-naics/internal/census"
	"github.com/census-naics/internal/logging"
	"github.com/census-naics/internal/metrics"
	"github.com/census-naics/internal/naics"
	"github.com/census-naics/internal/store"
)

// DefaultBatchSize is the number of fact rows buffered before a bulk insert.
const DefaultBatchSize = 1000

// ErrInterrupted is returned when the context is cancelled mid-run. Rows fetched before
// the cancellation are flushed first.
var ErrInterrupted = errors.New("population interrupted")

// FactStore is the part of the fact store the population engine needs.
type FactStore interface {
	RecordExists(ctx context.Context, year int, naicsCode string) (bool, error)
	InsertBatch(ctx context.Context, facts []store.Fact) error
	KnownGeoIDs(ctx context.Context) (map[string]struct{}, error)
}

// Fetcher retrieves one industry's ZIP level records for a year.
type Fetcher interface {
	FetchIndustry(ctx context.Context, code string, year int) ([]census.FactRow, error)
}

// Pair identifies one unit of population work.
type Pair struct {
	Code string
	Year int
}

// Options tunes a Pipeline.
type Options struct {
	Levels    []int
	BatchSize int
	Logger    logrus.FieldLogger
}

// PopulateStats summarizes one PopulateYear call.
type PopulateStats struct {
	Year             int
	Candidates       int
	Skipped          int
	PreviouslyFailed int
	Fetched          int
	Empty            int
	Failed           int
	RowsInserted     int
	Batches          int
	Remapped         int
}

// Pipeline populates a year's fact table from the API, one industry code at a time.
// Pairs that fail are remembered for the lifetime of the Pipeline and not retried.
type Pipeline struct {
	store     FactStore
	fetcher   Fetcher
	catalog   naics.Catalog
	levels    []int
	batchSize int
	log       logrus.FieldLogger

	failed map[Pair]error
}

// NewPipeline creates a population engine over one read-write store.
func NewPipeline(st FactStore, fetcher Fetcher, catalog naics.Catalog, opts Options) *Pipeline {
	p := &Pipeline{
		store:     st,
		fetcher:   fetcher,
		catalog:   catalog,
		levels:    opts.Levels,
		batchSize: opts.BatchSize,
		log:       opts.Logger,
		failed:    make(map[Pair]error),
	}
	if len(p.levels) == 0 {
		p.levels = []int{2, 5, 6}
	}
	if p.batchSize <= 0 {
		p.batchSize = DefaultBatchSize
	}
	if p.log == nil {
		p.log = logging.Discard()
	}
	return p
}

// Failed lists the pairs recorded as failed, sorted by year then code.
func (p *Pipeline) Failed() []Pair {
	out := make([]Pair, 0, len(p.failed))
	for pair := range p.failed {
		out = append(out, pair)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// PopulateYear fetches and stores every configured industry code for year, skipping codes
// already present in the store. Any store error aborts the run.
func (p *Pipeline) PopulateYear(ctx context.Context, year int) (PopulateStats, error) {
	log := p.log.WithField("year", year)
	defer logging.Timing(log, fmt.Sprintf("populate %d", year))()

	stats := PopulateStats{Year: year}
	yearLabel := strconv.Itoa(year)

	known, err := p.store.KnownGeoIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("populate %d: %w", year, err)
	}
	if !hasRealZip(known) {
		return stats, fmt.Errorf("populate %d: %w", year, ErrNoGeographies)
	}

	industries := p.catalog.WithLevels(p.levels)
	stats.Candidates = len(industries)

	buffer := make([]store.Fact, 0, p.batchSize)
	flush := func(ctx context.Context) error {
		if len(buffer) == 0 {
			return nil
		}
		if err := p.store.InsertBatch(ctx, buffer); err != nil {
			return err
		}
		stats.RowsInserted += len(buffer)
		stats.Batches++
		metrics.RowsInserted.WithLabelValues(yearLabel).Add(float64(len(buffer)))
		buffer = buffer[:0]
		return nil
	}
	interrupted := func() (PopulateStats, error) {
		if err := flush(context.WithoutCancel(ctx)); err != nil {
			return stats, fmt.Errorf("populate %d: %w", year, err)
		}
		log.WithField("rows", stats.RowsInserted).Warn("Population interrupted")
		return stats, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}

	for _, ind := range industries {
		if ctx.Err() != nil {
			return interrupted()
		}
		pair := Pair{Code: ind.Code, Year: year}
		plog := log.WithField("naics", ind.Code)

		if _, ok := p.failed[pair]; ok {
			stats.PreviouslyFailed++
			continue
		}

		exists, err := p.store.RecordExists(ctx, year, ind.Code)
		if err != nil {
			return stats, fmt.Errorf("populate %d: %w", year, err)
		}
		if exists {
			stats.Skipped++
			metrics.PopulateOutcomes.WithLabelValues(yearLabel, metrics.OutcomeSkipped).Inc()
			plog.Debug("Already stored")
			continue
		}

		rows, err := p.fetcher.FetchIndustry(ctx, ind.Code, year)
		if err != nil {
			if ctx.Err() != nil {
				return interrupted()
			}
			p.failed[pair] = err
			stats.Failed++
			metrics.PopulateOutcomes.WithLabelValues(yearLabel, metrics.OutcomeFailed).Inc()
			if errors.Is(err, census.ErrNoData) {
				plog.Debug("No data")
			} else {
				plog.WithError(err).Warn("Fetch failed")
			}
			continue
		}
		if len(rows) == 0 {
			stats.Empty++
			metrics.PopulateOutcomes.WithLabelValues(yearLabel, metrics.OutcomeEmpty).Inc()
			continue
		}

		for _, row := range rows {
			geoID := row.ZipCode
			if _, ok := known[geoID]; !ok {
				geoID = store.SentinelGeoID
				stats.Remapped++
			}
			buffer = append(buffer, store.Fact{
				GeoID:          geoID,
				NaicsCode:      ind.Code,
				Year:           year,
				Establishments: row.Establishments,
				Employees:      row.Employees,
				Payroll:        row.Payroll,
				IndustryLevel:  ind.Level,
			})
			if len(buffer) >= p.batchSize {
				if err := flush(ctx); err != nil {
					return stats, fmt.Errorf("populate %d: %w", year, err)
				}
			}
		}
		stats.Fetched++
		metrics.PopulateOutcomes.WithLabelValues(yearLabel, metrics.OutcomeInserted).Inc()
		plog.WithField("rows", len(rows)).Debug("Fetched")
	}

	if err := flush(ctx); err != nil {
		return stats, fmt.Errorf("populate %d: %w", year, err)
	}

	log.WithFields(logrus.Fields{
		"candidates": stats.Candidates,
		"skipped":    stats.Skipped,
		"fetched":    stats.Fetched,
		"failed":     stats.Failed,
		"empty":      stats.Empty,
		"rows":       stats.RowsInserted,
		"remapped":   stats.Remapped,
	}).Info("Population finished")
	return stats, nil
}

func hasRealZip(known map[string]struct{}) bool {
	for id := range known {
		if id != store.SentinelGeoID {
			return true
		}
	}
	return false
}
