// Package store is the per-year DuckDB fact store: three dimension tables and the
// FactEntry table, one database file per data year.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/marcboeker/go-duckdb/v2"
	"github.com/sirupsen/logrus"
)

const (
	// SentinelGeoID collects facts whose ZIP has no known state.
	SentinelGeoID = "99999"

	// NotSpecified is the export bucket name used for the sentinel geography.
	NotSpecified = "NotSpecified"
)

// Dimension and fact table names.
const (
	TableGeography = "Geography"
	TableIndustry  = "Industry"
	TableYear      = "Year"
	TableFacts     = "FactEntry"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS Geography (
	geo_id VARCHAR,
	city   VARCHAR,
	state  VARCHAR
);

CREATE TABLE IF NOT EXISTS Industry (
	naics_code      VARCHAR,
	industry_detail VARCHAR
);

CREATE TABLE IF NOT EXISTS "Year" (
	year           BIGINT,
	naics_revision VARCHAR
);

CREATE SEQUENCE IF NOT EXISTS entryid_seq START 1;

CREATE TABLE IF NOT EXISTS FactEntry (
	entry_id       BIGINT,
	geo_id         VARCHAR,
	naics_code     VARCHAR,
	year           BIGINT,
	establishments BIGINT,
	employees      BIGINT,
	payroll        BIGINT,
	industry_level BIGINT
);
`

var indexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_geography_geo_id ON Geography(geo_id)`,
	`CREATE INDEX IF NOT EXISTS idx_geography_state ON Geography(state)`,
	`CREATE INDEX IF NOT EXISTS idx_industry_naics_code ON Industry(naics_code)`,
	`CREATE INDEX IF NOT EXISTS idx_year_year ON "Year"(year)`,
	`CREATE INDEX IF NOT EXISTS idx_fact_entry_id ON FactEntry(entry_id)`,
	`CREATE INDEX IF NOT EXISTS idx_fact_geo_id ON FactEntry(geo_id)`,
	`CREATE INDEX IF NOT EXISTS idx_fact_naics_code ON FactEntry(naics_code)`,
}

// Error is a failed store operation. Population aborts the year on any *Error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// Options controls how a store is opened.
type Options struct {
	ReadOnly bool
	Logger   logrus.FieldLogger
}

// Store is a handle on one year's database file.
type Store struct {
	db       *sqlx.DB
	path     string
	readOnly bool
	log      logrus.FieldLogger
}

// PathForYear returns the database file for a year under base.
func PathForYear(base string, year int) string {
	return filepath.Join(base, fmt.Sprintf("us_naics_census_data_%d.duckdb", year))
}

// Open opens the database at path. A read-write open creates the directory, tables and
// sequence when missing; a read-only open requires the file to exist.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	dsn := path
	if opts.ReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, wrap("open", fmt.Errorf("store file %s: %w", path, err))
		}
		dsn = path + "?access_mode=READ_ONLY"
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, wrap("open", fmt.Errorf("create store dir: %w", err))
		}
	}

	connector, err := duckdb.NewConnector(dsn, nil)
	if err != nil {
		return nil, wrap("open", fmt.Errorf("failed to open %s: %w", path, err))
	}
	db := sqlx.NewDb(sql.OpenDB(connector), "duckdb")

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wrap("open", fmt.Errorf("failed to ping %s: %w", path, err))
	}

	s := &Store{db: db, path: path, readOnly: opts.ReadOnly, log: log.WithField("store", filepath.Base(path))}
	if !opts.ReadOnly {
		if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
			db.Close()
			return nil, wrap("create schema", err)
		}
	}
	return s, nil
}

// Path is the database file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateIndexes adds the secondary indexes used by lookups. Safe to run repeatedly.
func (s *Store) CreateIndexes(ctx context.Context) error {
	for _, stmt := range indexSQL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrap("create index", err)
		}
	}
	return nil
}

// appendRows bulk loads rows into table through a DuckDB appender on a single connection,
// inside one transaction.
func (s *Store) appendRows(ctx context.Context, table string, rows [][]driver.Value) (err error) {
	if len(rows) == 0 {
		return nil
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	err = conn.Raw(func(dc any) error {
		appender, err := duckdb.NewAppenderFromConn(dc.(driver.Conn), "", table)
		if err != nil {
			return fmt.Errorf("create appender: %w", err)
		}
		for _, row := range rows {
			if err := appender.AppendRow(row...); err != nil {
				appender.Close()
				return fmt.Errorf("append row: %w", err)
			}
		}
		return appender.Close()
	})
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, "COMMIT")
	return err
}
