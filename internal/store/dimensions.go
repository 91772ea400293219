package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/census-naics/internal/naics"
)

// Geography is one ZIP code of the geography dimension. Empty City or State is stored as NULL.
type Geography struct {
	GeoID string
	City  string
	State string
}

var dimensionTables = map[string]bool{
	TableGeography: true,
	TableIndustry:  true,
	TableYear:      true,
	TableFacts:     true,
}

// IsEmpty reports whether table has no rows.
func (s *Store) IsEmpty(ctx context.Context, table string) (bool, error) {
	if !dimensionTables[table] {
		return false, wrap("is empty", fmt.Errorf("unknown table %q", table))
	}
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM "%s" LIMIT 1)`, table)
	if err := s.db.GetContext(ctx, &exists, query); err != nil {
		return false, wrap("is empty", err)
	}
	return !exists, nil
}

// LoadGeographies bulk loads the geography dimension.
func (s *Store) LoadGeographies(ctx context.Context, geos []Geography) error {
	rows := make([][]driver.Value, 0, len(geos))
	for _, g := range geos {
		rows = append(rows, []driver.Value{g.GeoID, nullable(g.City), nullable(g.State)})
	}
	return wrap("load geographies", s.appendRows(ctx, TableGeography, rows))
}

// LoadIndustries bulk loads the industry dimension.
func (s *Store) LoadIndustries(ctx context.Context, catalog naics.Catalog) error {
	rows := make([][]driver.Value, 0, len(catalog))
	for _, ind := range catalog {
		rows = append(rows, []driver.Value{ind.Code, ind.Description})
	}
	return wrap("load industries", s.appendRows(ctx, TableIndustry, rows))
}

// LoadYears bulk loads the year dimension.
func (s *Store) LoadYears(ctx context.Context, years []naics.YearRevision) error {
	rows := make([][]driver.Value, 0, len(years))
	for _, y := range years {
		rows = append(rows, []driver.Value{int64(y.Year), string(y.Revision)})
	}
	return wrap("load years", s.appendRows(ctx, TableYear, rows))
}

// KnownGeoIDs returns the set of geo ids in the geography dimension.
func (s *Store) KnownGeoIDs(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT DISTINCT geo_id FROM Geography`); err != nil {
		return nil, wrap("known geo ids", err)
	}
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	return known, nil
}

// States lists the distinct non-null states, sorted.
func (s *Store) States(ctx context.Context) ([]string, error) {
	var states []string
	err := s.db.SelectContext(ctx, &states,
		`SELECT DISTINCT state FROM Geography WHERE state IS NOT NULL ORDER BY state`)
	if err != nil {
		return nil, wrap("states", err)
	}
	return states, nil
}

// ZipCodesForState lists the geo ids of a state, sorted.
func (s *Store) ZipCodesForState(ctx context.Context, state string) ([]string, error) {
	var zips []string
	err := s.db.SelectContext(ctx, &zips,
		`SELECT DISTINCT geo_id FROM Geography WHERE state = ? ORDER BY geo_id`, state)
	if err != nil {
		return nil, wrap("zip codes for state", err)
	}
	return zips, nil
}

// Geographies returns the whole geography dimension ordered by geo id.
func (s *Store) Geographies(ctx context.Context) ([]Geography, error) {
	var rows []struct {
		GeoID string         `db:"geo_id"`
		City  sql.NullString `db:"city"`
		State sql.NullString `db:"state"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT geo_id, city, state FROM Geography ORDER BY geo_id`); err != nil {
		return nil, wrap("geographies", err)
	}
	out := make([]Geography, 0, len(rows))
	for _, r := range rows {
		out = append(out, Geography{GeoID: r.GeoID, City: r.City.String, State: r.State.String})
	}
	return out, nil
}

func nullable(s string) driver.Value {
	if s == "" {
		return nil
	}
	return s
}
