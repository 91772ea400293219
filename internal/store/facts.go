package store

import (
	"context"
	"database/sql/driver"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Fact is one row of the FactEntry table. EntryID is assigned on insert.
type Fact struct {
	EntryID        int64  `db:"entry_id"`
	GeoID          string `db:"geo_id"`
	NaicsCode      string `db:"naics_code"`
	Year           int    `db:"year"`
	Establishments int64  `db:"establishments"`
	Employees      int64  `db:"employees"`
	Payroll        int64  `db:"payroll"`
	IndustryLevel  int    `db:"industry_level"`
}

// ExportRow is the projection written to the per-state CSV files.
type ExportRow struct {
	Zipcode        string `db:"geo_id"`
	NaicsCode      string `db:"naics_code"`
	Establishments int64  `db:"establishments"`
	Employees      int64  `db:"employees"`
	Payroll        int64  `db:"payroll"`
}

const factColumns = `entry_id, geo_id, naics_code, year, establishments, employees, payroll, industry_level`

// RecordExists reports whether any fact for the industry code and year is stored.
func (s *Store) RecordExists(ctx context.Context, year int, naicsCode string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM FactEntry WHERE year = ? AND naics_code = ?)`, int64(year), naicsCode)
	if err != nil {
		return false, wrap("record exists", err)
	}
	return exists, nil
}

// InsertBatch draws one entry id per fact from entryid_seq and appends the facts in a
// single transaction. IndustryLevel is derived from the code when unset.
func (s *Store) InsertBatch(ctx context.Context, facts []Fact) error {
	if len(facts) == 0 {
		return nil
	}
	log := s.log.WithFields(logrus.Fields{
		"rows":       len(facts),
		"first_geo":  facts[0].GeoID,
		"first_code": facts[0].NaicsCode,
		"year":       facts[0].Year,
	})

	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `SELECT nextval('entryid_seq') FROM range(?)`, int64(len(facts)))
	if err != nil {
		log.WithError(err).Error("Failed to draw entry ids")
		return wrap("insert batch", fmt.Errorf("draw entry ids: %w", err))
	}
	if len(ids) != len(facts) {
		err := fmt.Errorf("drew %d entry ids for %d rows", len(ids), len(facts))
		log.WithError(err).Error("Failed to draw entry ids")
		return wrap("insert batch", err)
	}

	rows := make([][]driver.Value, 0, len(facts))
	for i, f := range facts {
		level := f.IndustryLevel
		if level == 0 {
			level = len(f.NaicsCode)
		}
		rows = append(rows, []driver.Value{
			ids[i], f.GeoID, f.NaicsCode, int64(f.Year),
			f.Establishments, f.Employees, f.Payroll, int64(level),
		})
	}

	if err := s.appendRows(ctx, TableFacts, rows); err != nil {
		log.WithError(err).Error("Failed to insert batch")
		return wrap("insert batch", err)
	}
	log.Debug("Inserted batch")
	return nil
}

// ExportRows returns the facts of the given zips for a year and industry level, ordered
// by geo id then industry code.
func (s *Store) ExportRows(ctx context.Context, zips []string, year, level int) ([]ExportRow, error) {
	if len(zips) == 0 {
		return nil, nil
	}
	if err := validateZips(zips); err != nil {
		return nil, err
	}
	query, args, err := sqlx.In(`
		SELECT geo_id, naics_code, establishments, employees, payroll
		FROM FactEntry
		WHERE geo_id IN (?) AND year = ? AND industry_level = ?
		ORDER BY geo_id, naics_code`, zips, int64(year), int64(level))
	if err != nil {
		return nil, wrap("export rows", err)
	}
	var rows []ExportRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, wrap("export rows", err)
	}
	return rows, nil
}

// CountForState counts the facts of a state's zips for a year and level.
func (s *Store) CountForState(ctx context.Context, state string, year, level int) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM FactEntry
		WHERE geo_id IN (SELECT geo_id FROM Geography WHERE state = ?)
		  AND year = ? AND industry_level = ?`, state, int64(year), int64(level))
	if err != nil {
		return 0, wrap("count for state", err)
	}
	return n, nil
}

// CountForGeo counts the facts of one zip for a year and level.
func (s *Store) CountForGeo(ctx context.Context, zip string, year, level int) (int, error) {
	if err := ValidateZip(zip); err != nil {
		return 0, err
	}
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM FactEntry WHERE geo_id = ? AND year = ? AND industry_level = ?`,
		zip, int64(year), int64(level))
	if err != nil {
		return 0, wrap("count for geo", err)
	}
	return n, nil
}

// CountForYear counts every fact of a year.
func (s *Store) CountForYear(ctx context.Context, year int) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM FactEntry WHERE year = ?`, int64(year)); err != nil {
		return 0, wrap("count for year", err)
	}
	return n, nil
}

// FactsForZip returns a zip's facts for a year, optionally limited to one industry level
// (level 0 means all levels).
func (s *Store) FactsForZip(ctx context.Context, zip string, year, level int) ([]Fact, error) {
	if err := ValidateZip(zip); err != nil {
		return nil, err
	}
	query := `SELECT ` + factColumns + ` FROM FactEntry WHERE geo_id = ? AND year = ?`
	args := []any{zip, int64(year)}
	if level > 0 {
		query += ` AND industry_level = ?`
		args = append(args, int64(level))
	}
	query += ` ORDER BY industry_level, naics_code`

	var facts []Fact
	if err := s.db.SelectContext(ctx, &facts, query, args...); err != nil {
		return nil, wrap("facts for zip", err)
	}
	return facts, nil
}

// ScanYear streams every fact of a year, in entry id order, to fn. It stops at the first
// error fn returns.
func (s *Store) ScanYear(ctx context.Context, year int, fn func(Fact) error) error {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT `+factColumns+` FROM FactEntry WHERE year = ? ORDER BY entry_id`, int64(year))
	if err != nil {
		return wrap("scan year", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f Fact
		if err := rows.StructScan(&f); err != nil {
			return wrap("scan year", err)
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return wrap("scan year", rows.Err())
}
