package etl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/census-naics/internal/census"
	"github.com/census-naics/internal/logging"
	"github.com/census-naics/internal/naics"
	"github.com/census-naics/internal/store"
)

type memStore struct {
	facts      []store.Fact
	known      map[string]struct{}
	batches    []int
	insertErr  error
	existsErr  error
	existCalls int
}

func newMemStore(zips ...string) *memStore {
	known := map[string]struct{}{store.SentinelGeoID: {}}
	for _, z := range zips {
		known[z] = struct{}{}
	}
	return &memStore{known: known}
}

func (m *memStore) RecordExists(_ context.Context, year int, code string) (bool, error) {
	m.existCalls++
	if m.existsErr != nil {
		return false, m.existsErr
	}
	for _, f := range m.facts {
		if f.Year == year && f.NaicsCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertBatch(_ context.Context, facts []store.Fact) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.facts = append(m.facts, facts...)
	m.batches = append(m.batches, len(facts))
	return nil
}

func (m *memStore) KnownGeoIDs(context.Context) (map[string]struct{}, error) {
	return m.known, nil
}

type fakeFetcher struct {
	rows   map[string][]census.FactRow
	errs   map[string]error
	calls  map[string]int
	onCall func(code string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		rows:  make(map[string][]census.FactRow),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) FetchIndustry(_ context.Context, code string, _ int) ([]census.FactRow, error) {
	f.calls[code]++
	if f.onCall != nil {
		f.onCall(code)
	}
	if err := f.errs[code]; err != nil {
		return nil, err
	}
	return f.rows[code], nil
}

func row(zip, code string, estab int64) census.FactRow {
	return census.FactRow{ZipCode: zip, NaicsCode: code, Establishments: estab, Employees: estab * 10, Payroll: estab * 100}
}

var testCatalog = naics.Catalog{
	{Code: "00", Description: "Total", Level: 2},
	{Code: "11", Description: "Agriculture", Level: 2},
	{Code: "1111", Description: "Oilseed and grain farming", Level: 4},
	{Code: "23", Description: "Construction", Level: 2},
}

func newTestPipeline(st FactStore, f Fetcher, batchSize int) *Pipeline {
	return NewPipeline(st, f, testCatalog, Options{
		Levels:    []int{2},
		BatchSize: batchSize,
		Logger:    logging.Discard(),
	})
}

func TestPopulateYearBatchesAcrossIndustries(t *testing.T) {
	st := newMemStore("94103", "90001")
	f := newFakeFetcher()
	f.rows["00"] = []census.FactRow{row("94103", "00", 10), row("90001", "00", 5)}
	f.rows["11"] = []census.FactRow{row("94103", "11", 1), row("90001", "11", 2)}
	f.rows["23"] = []census.FactRow{row("94103", "23", 3)}

	stats, err := newTestPipeline(st, f, 3).PopulateYear(context.Background(), 2024)
	require.NoError(t, err)

	assert.Equal(t, PopulateStats{
		Year:         2024,
		Candidates:   3,
		Fetched:      3,
		RowsInserted: 5,
		Batches:      2,
	}, stats)
	assert.Equal(t, []int{3, 2}, st.batches)
	assert.Zero(t, f.calls["1111"], "level 4 is not configured")

	for _, fact := range st.facts {
		assert.Equal(t, 2024, fact.Year)
		assert.Equal(t, 2, fact.IndustryLevel)
	}
}

func TestPopulateYearIsIdempotent(t *testing.T) {
	st := newMemStore("94103")
	f := newFakeFetcher()
	f.rows["00"] = []census.FactRow{row("94103", "00", 10)}
	f.rows["11"] = []census.FactRow{row("94103", "11", 1)}
	f.rows["23"] = []census.FactRow{row("94103", "23", 2)}

	_, err := newTestPipeline(st, f, 10).PopulateYear(context.Background(), 2024)
	require.NoError(t, err)
	before := len(st.facts)

	stats, err := newTestPipeline(st, f, 10).PopulateYear(context.Background(), 2024)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Skipped)
	assert.Zero(t, stats.RowsInserted)
	assert.Len(t, st.facts, before)
	for _, code := range []string{"00", "11", "23"} {
		assert.Equal(t, 1, f.calls[code], code)
	}
}

func TestPopulateYearDoesNotRetryFailedPairs(t *testing.T) {
	st := newMemStore("94103")
	f := newFakeFetcher()
	f.rows["00"] = []census.FactRow{row("94103", "00", 10)}
	f.errs["11"] = census.ErrRateLimited
	f.errs["23"] = census.ErrNoData

	p := newTestPipeline(st, f, 10)
	stats, err := p.PopulateYear(context.Background(), 2024)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 1, stats.Fetched)
	assert.Equal(t, []Pair{{Code: "11", Year: 2024}, {Code: "23", Year: 2024}}, p.Failed())

	stats, err = p.PopulateYear(context.Background(), 2024)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PreviouslyFailed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, f.calls["11"])
	assert.Equal(t, 1, f.calls["23"])

	// A fresh engine starts with an empty failure set.
	_, err = newTestPipeline(st, f, 10).PopulateYear(context.Background(), 2024)
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls["11"])
}

func TestPopulateYearStoreErrorAbortsYear(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(st *memStore)
		wantCalls int
	}{
		{
			name:      "insert failure",
			setup:     func(st *memStore) { st.insertErr = &store.Error{Op: "insert batch", Err: errors.New("disk full")} },
			wantCalls: 1,
		},
		{
			name:      "exists check failure",
			setup:     func(st *memStore) { st.existsErr = &store.Error{Op: "record exists", Err: errors.New("closed")} },
			wantCalls: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore("94103")
			tt.setup(st)
			f := newFakeFetcher()
			f.rows["00"] = []census.FactRow{row("94103", "00", 10)}
			f.rows["11"] = []census.FactRow{row("94103", "11", 1)}

			_, err := newTestPipeline(st, f, 1).PopulateYear(context.Background(), 2024)
			var se *store.Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantCalls, f.calls["00"]+f.calls["11"]+f.calls["23"])
		})
	}
}

func TestPopulateYearRemapsUnknownZips(t *testing.T) {
	st := newMemStore("94103")
	f := newFakeFetcher()
	f.rows["00"] = []census.FactRow{row("94103", "00", 10), row("00000", "00", 4)}

	stats, err := newTestPipeline(st, f, 10).PopulateYear(context.Background(), 2024)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Remapped)
	require.Len(t, st.facts, 2)
	assert.Equal(t, "94103", st.facts[0].GeoID)
	assert.Equal(t, store.SentinelGeoID, st.facts[1].GeoID)
}

func TestPopulateYearEmptyResponse(t *testing.T) {
	st := newMemStore("94103")
	f := newFakeFetcher()
	f.rows["00"] = []census.FactRow{}

	stats, err := newTestPipeline(st, f, 10).PopulateYear(context.Background(), 2024)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Empty)
	assert.Empty(t, st.facts)
}

func TestPopulateYearInterrupted(t *testing.T) {
	st := newMemStore("94103")
	f := newFakeFetcher()
	f.rows["00"] = []census.FactRow{row("94103", "00", 10)}
	f.rows["11"] = []census.FactRow{row("94103", "11", 1)}
	f.rows["23"] = []census.FactRow{row("94103", "23", 2)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.onCall = func(code string) {
		if code == "11" {
			cancel()
		}
	}

	stats, err := newTestPipeline(st, f, 10).PopulateYear(ctx, 2024)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, stats.RowsInserted, "buffered pairs are flushed")
	assert.Zero(t, f.calls["23"])
}

func TestPopulateYearRequiresGeographies(t *testing.T) {
	st := newMemStore()
	f := newFakeFetcher()
	f.rows["00"] = []census.FactRow{row("94103", "00", 10)}

	_, err := newTestPipeline(st, f, 10).PopulateYear(context.Background(), 2024)
	require.ErrorIs(t, err, ErrNoGeographies)
	assert.Empty(t, f.calls)
	assert.Empty(t, st.facts)
}
