// Package publish mirrors a year's facts into a Postgres table for downstream consumers.
package publish

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/census-naics/internal/logging"
	"github.com/census-naics/internal/store"
)

// Table is the Postgres table facts are copied into.
const Table = "census_facts"

const createTableSQL = `
CREATE TABLE IF NOT EXISTS census_facts (
	entry_id       BIGINT     NOT NULL,
	geo_id         VARCHAR(5) NOT NULL,
	naics_code     VARCHAR(6) NOT NULL,
	year           INTEGER    NOT NULL,
	establishments BIGINT     NOT NULL,
	employees      BIGINT     NOT NULL,
	payroll        BIGINT     NOT NULL,
	industry_level SMALLINT   NOT NULL,
	PRIMARY KEY (year, entry_id)
)`

var columns = []string{
	"entry_id", "geo_id", "naics_code", "year",
	"establishments", "employees", "payroll", "industry_level",
}

// FactSource streams a year's facts.
type FactSource interface {
	ScanYear(ctx context.Context, year int, fn func(store.Fact) error) error
}

// Publisher copies facts into Postgres.
type Publisher struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// NewPublisher creates a publisher over an open Postgres handle.
func NewPublisher(db *sql.DB, log logrus.FieldLogger) *Publisher {
	if log == nil {
		log = logging.Discard()
	}
	return &Publisher{db: db, log: log}
}

// PublishYear replaces the year's rows in census_facts with the store's facts, in one
// transaction, using COPY. It returns the number of rows copied.
func (p *Publisher) PublishYear(ctx context.Context, src FactSource, year int) (n int, err error) {
	log := p.log.WithField("year", year)
	defer logging.Timing(log, fmt.Sprintf("publish %d", year))()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, createTableSQL); err != nil {
		return 0, fmt.Errorf("create %s: %w", Table, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM census_facts WHERE year = $1`, int64(year))
	if err != nil {
		return 0, fmt.Errorf("clear year %d: %w", year, err)
	}
	if deleted, _ := res.RowsAffected(); deleted > 0 {
		log.WithField("rows", deleted).Info("Replacing published rows")
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(Table, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare copy: %w", err)
	}

	err = src.ScanYear(ctx, year, func(f store.Fact) error {
		_, err := stmt.ExecContext(ctx,
			f.EntryID, f.GeoID, f.NaicsCode, int64(f.Year),
			f.Establishments, f.Employees, f.Payroll, int64(f.IndustryLevel))
		if err != nil {
			return fmt.Errorf("copy row %d: %w", f.EntryID, err)
		}
		n++
		return nil
	})
	if err != nil {
		stmt.Close()
		return 0, err
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return 0, fmt.Errorf("flush copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return 0, fmt.Errorf("close copy: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	log.WithField("rows", n).Info("Published year")
	return n, nil
}
