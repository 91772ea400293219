package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/census-naics/internal/census"
	"github.com/census-naics/internal/census/censustest"
	"github.com/census-naics/internal/config"
	"github.com/census-naics/internal/etl"
	"github.com/census-naics/internal/export"
	"github.com/census-naics/internal/store"
)

// runCLI executes the root command with captured output.
func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	a := &app{}
	root := newRootCmd(a)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return exitCode(classify(err)), stdout.String(), stderr.String()
}

func setTestEnv(t *testing.T, apiURL string) (storeDir, exportDir string) {
	t.Helper()
	storeDir = t.TempDir()
	exportDir = t.TempDir()
	t.Setenv("NAICS_STORE_PATH", storeDir)
	t.Setenv("NAICS_EXPORT_DIR", exportDir)
	t.Setenv("CENSUS_API_URL", apiURL)
	t.Setenv("CENSUS_API_KEY", "test-key")
	t.Setenv("CENSUS_RPS", "0")
	t.Setenv("NAICS_INDUSTRY_LEVELS", "2")
	t.Setenv("NAICS_GEO_START_YEAR", "2012")
	t.Setenv("NAICS_GEO_END_YEAR", "2012")
	t.Setenv("NAICS_START_YEAR", "2024")
	t.Setenv("NAICS_END_YEAR", "2024")
	t.Setenv("LOG_LEVEL", "warn")
	return storeDir, exportDir
}

func TestExitCodeClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"invalid year", fmt.Errorf("wrap: %w", config.ErrInvalidYear), exitUsage},
		{"store", &store.Error{Op: "open", Err: errors.New("locked")}, exitStore},
		{"remote", fmt.Errorf("fetch: %w", census.ErrRateLimited), exitRemote},
		{"no geographies", fmt.Errorf("bootstrap: %w", etl.ErrNoGeographies), exitRemote},
		{"interrupted populate", fmt.Errorf("%w: %w", etl.ErrInterrupted, context.Canceled), exitInterrupted},
		{"interrupted export", export.ErrInterrupted, exitInterrupted},
		{"mismatch", withCode(exitMismatch, errValidationFailed), exitMismatch},
		{"unknown", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(classify(tt.err)))
		})
	}
}

func TestYearArgumentRejectedBeforeAccess(t *testing.T) {
	srv := censustest.New(t)
	storeDir, _ := setTestEnv(t, srv.BaseURL())

	for _, cmd := range []string{"populate", "export", "validate", "run", "indexes"} {
		for _, year := range []string{"2011", "twenty"} {
			t.Run(cmd+" "+year, func(t *testing.T) {
				code, _, _ := runCLI(t, cmd, year)
				assert.Equal(t, exitUsage, code)
			})
		}
	}

	entries, err := os.ReadDir(storeDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no store is opened")
	assert.Empty(t, srv.Requests(), "no request is sent")
}

func TestPopulateRequiresAPIKey(t *testing.T) {
	srv := censustest.New(t)
	setTestEnv(t, srv.BaseURL())
	t.Setenv("CENSUS_API_KEY", "")

	code, _, _ := runCLI(t, "populate", "2024")
	assert.Equal(t, exitUsage, code)
}

func TestPopulateGeographyOutage(t *testing.T) {
	srv := censustest.New(t)
	srv.AddFacts(2024, "00", censustest.Fact{Zip: "94103", Naics: "00", Establishments: 1, Employees: 1, Payroll: 1})
	setTestEnv(t, srv.BaseURL())

	code, _, stderr := runCLI(t, "populate", "2024")
	assert.Equal(t, exitRemote, code, stderr)
	assert.Zero(t, srv.RequestCount(2024, "00"))

	srv.AddGeography(2012, "94103", "ZIP 94103 (San Francisco, CA)")
	code, stdout, stderr := runCLI(t, "populate", "2024")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "rows inserted")
}

func TestValidateMissingStore(t *testing.T) {
	srv := censustest.New(t)
	setTestEnv(t, srv.BaseURL())

	code, stdout, _ := runCLI(t, "validate", "2024")
	assert.Equal(t, exitMismatch, code)
	assert.Contains(t, stdout, "Validation failed for 2024")
}

func TestRunCaliforniaScenario(t *testing.T) {
	srv := censustest.New(t)
	srv.AddGeography(2012, "94103", "ZIP 94103 (San Francisco, CA)")
	srv.AddGeography(2012, "90001", "ZIP 90001 (Los Angeles, CA)")
	srv.AddFacts(2024, "00",
		censustest.Fact{Zip: "94103", Naics: "00", Establishments: 10, Employees: 100, Payroll: 5000},
		censustest.Fact{Zip: "90001", Naics: "00", Establishments: 5, Employees: 50, Payroll: 2000},
	)
	storeDir, exportDir := setTestEnv(t, srv.BaseURL())

	list := filepath.Join(t.TempDir(), "industries.csv")
	require.NoError(t, os.WriteFile(list, []byte("relevant_naics,industry_detail\n0,Total for all sectors\n"), 0o644))
	t.Setenv("NAICS_INDUSTRY_LIST", list)

	code, stdout, stderr := runCLI(t, "run", "2024")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Validation passed for 2024")

	data, err := os.ReadFile(export.FilePath(exportDir, "CA", 2, 2024))
	require.NoError(t, err)
	assert.Equal(t,
		"Zipcode,NaicsCode,Establishments,Employees,Payroll\n"+
			"90001,00,5,50,2000\n"+
			"94103,00,10,100,5000\n",
		string(data))
	assert.FileExists(t, store.PathForYear(storeDir, 2024))

	// A second run fetches nothing new.
	requests := srv.RequestCount(2024, "00")
	code, _, stderr = runCLI(t, "populate", "2024")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, requests, srv.RequestCount(2024, "00"))

	code, stdout, stderr = runCLI(t, "lookup", "2024", "--zip", "94103")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "Zipcode,NaicsCode,IndustryLevel,Establishments,Employees,Payroll\n94103,00,2,10,100,5000\n", stdout)

	code, _, _ = runCLI(t, "lookup", "2024", "--zip", "9410")
	assert.Equal(t, exitUsage, code)

	code, stdout, stderr = runCLI(t, "geographies", "2024", "--state", "CA")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "Zipcode,City,State\n90001,Los Angeles,CA\n94103,San Francisco,CA\n", stdout)

	code, stdout, stderr = runCLI(t, "indexes", "2024")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Indexes ready")

	// Removing a row from the export makes validation fail with exit code 1.
	path := export.FilePath(exportDir, "CA", 2, 2024)
	require.NoError(t, os.WriteFile(path, []byte("Zipcode,NaicsCode,Establishments,Employees,Payroll\n90001,00,5,50,2000\n"), 0o644))
	code, stdout, _ = runCLI(t, "validate", "2024")
	assert.Equal(t, exitMismatch, code)
	assert.Contains(t, stdout, "Validation failed for 2024")
	assert.Contains(t, stdout, "CA naics2: store 2, csv 1")
}

func TestPopulateReportsFailedIndustries(t *testing.T) {
	srv := censustest.New(t)
	srv.AddGeography(2012, "94103", "ZIP 94103 (San Francisco, CA)")
	srv.AddFacts(2024, "00", censustest.Fact{Zip: "94103", Naics: "00", Establishments: 1, Employees: 1, Payroll: 1})
	setTestEnv(t, srv.BaseURL())

	list := filepath.Join(t.TempDir(), "industries.csv")
	require.NoError(t, os.WriteFile(list, []byte("relevant_naics,industry_detail\n0,Total\n23,Construction\n"), 0o644))
	t.Setenv("NAICS_INDUSTRY_LIST", list)

	code, stdout, stderr := runCLI(t, "populate", "2024")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "1 failed")
	assert.Contains(t, stdout, "failed naics 23 for 2024")
	assert.NotContains(t, stdout, "failed naics 00")
}

func TestPublishRequiresDSN(t *testing.T) {
	srv := censustest.New(t)
	setTestEnv(t, srv.BaseURL())
	t.Setenv("NAICS_PUBLISH_DSN", "")

	code, _, _ := runCLI(t, "publish", "2024")
	assert.Equal(t, exitUsage, code)
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	code, _, _ := runCLI(t, "export", "2024", "--no-such-flag")
	assert.Equal(t, exitUsage, code)
}
