// Package validation reconciles exported CSV row counts with the fact store.
package validation

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/census-naics/internal/export"
	"github.com/census-naics/internal/logging"
	"github.com/census-naics/internal/metrics"
	"github.com/census-naics/internal/store"
)

// Counter is the read side of the store the validator compares against.
type Counter interface {
	States(ctx context.Context) ([]string, error)
	CountForState(ctx context.Context, state string, year, level int) (int, error)
	CountForGeo(ctx context.Context, zip string, year, level int) (int, error)
}

// Options configures a Validator.
type Options struct {
	Dir    string
	Levels []int
	Logger logrus.FieldLogger
}

// Validator checks every state and level, plus the NotSpecified bucket.
type Validator struct {
	store  Counter
	dir    string
	levels []int
	log    logrus.FieldLogger
}

// NewValidator creates a validator over an open store.
func NewValidator(st Counter, opts Options) *Validator {
	v := &Validator{store: st, dir: opts.Dir, levels: opts.Levels, log: opts.Logger}
	if len(v.levels) == 0 {
		v.levels = []int{2, 5, 6}
	}
	if v.log == nil {
		v.log = logging.Discard()
	}
	return v
}

// ValidateYear compares store and CSV counts for every pair. A mismatch is reported in the
// result, not as an error; errors mean a count could not be taken.
func (v *Validator) ValidateYear(ctx context.Context, year int) (*Result, error) {
	log := v.log.WithField("year", year)
	defer logging.Timing(log, fmt.Sprintf("validate %d", year))()

	states, err := v.store.States(ctx)
	if err != nil {
		return nil, err
	}
	states = append(states, store.NotSpecified)

	result := &Result{Year: year, Passed: true}
	for _, state := range states {
		for _, level := range v.levels {
			pair, err := v.checkPair(ctx, state, level, year)
			if err != nil {
				return nil, err
			}
			if !pair.Match {
				result.Passed = false
				metrics.ValidationMismatches.WithLabelValues(strconv.Itoa(year)).Inc()
				log.WithFields(logrus.Fields{
					"state":        state,
					"level":        level,
					"store_count":  pair.StoreCount,
					"csv_count":    pair.CSVCount,
					"file_missing": pair.FileMissing,
				}).Warn("Row count mismatch")
			}
			result.Pairs = append(result.Pairs, pair)
		}
	}

	log.WithFields(logrus.Fields{
		"pairs":      len(result.Pairs),
		"mismatches": len(result.Mismatches()),
	}).Info("Validation finished")
	return result, nil
}

func (v *Validator) checkPair(ctx context.Context, state string, level, year int) (PairResult, error) {
	pair := PairResult{State: state, Level: level}

	var err error
	if state == store.NotSpecified {
		pair.StoreCount, err = v.store.CountForGeo(ctx, store.SentinelGeoID, year, level)
	} else {
		pair.StoreCount, err = v.store.CountForState(ctx, state, year, level)
	}
	if err != nil {
		return pair, err
	}

	pair.CSVCount, pair.FileMissing, err = CountCSVRows(export.FilePath(v.dir, state, level, year))
	if err != nil {
		return pair, err
	}
	pair.Match = pair.StoreCount == pair.CSVCount
	return pair, nil
}

// CountCSVRows counts the data rows of a CSV file, excluding the header. A missing file
// counts as zero rows and sets missing.
func CountCSVRows(path string) (rows int, missing bool, err error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	records := 0
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, false, fmt.Errorf("read %s: %w", path, err)
		}
		records++
	}
	if records == 0 {
		return 0, false, nil
	}
	return records - 1, false, nil
}
