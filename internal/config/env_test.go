package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CENSUS_API_KEY", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "./database", cfg.StorePath)
	assert.Equal(t, []int{2, 5, 6}, cfg.IndustryLevels)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, time.Now().Year()-1, cfg.EndYear)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.NoError(t, cfg.RequireAPIKey())
}

func TestLoadFromDotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "NAICS_INDUSTRY_LEVELS=2,6\nNAICS_EXPORT_WORKERS=8\nCENSUS_API_URL=http://localhost:9999/data/\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("NAICS_INDUSTRY_LEVELS", "")
	os.Unsetenv("NAICS_INDUSTRY_LEVELS")
	t.Setenv("NAICS_EXPORT_WORKERS", "")
	os.Unsetenv("NAICS_EXPORT_WORKERS")
	t.Setenv("CENSUS_API_URL", "")
	os.Unsetenv("CENSUS_API_URL")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 6}, cfg.IndustryLevels)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "http://localhost:9999/data", cfg.APIBaseURL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "zero workers", env: map[string]string{"NAICS_EXPORT_WORKERS": "0"}},
		{name: "level too deep", env: map[string]string{"NAICS_INDUSTRY_LEVELS": "2,7"}},
		{name: "unknown log level", env: map[string]string{"LOG_LEVEL": "verbose"}},
		{name: "start after end", env: map[string]string{"NAICS_START_YEAR": "2020", "NAICS_END_YEAR": "2015"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	cfg := &Config{}
	assert.ErrorIs(t, cfg.RequireAPIKey(), ErrMissingAPIKey)
}

func TestParseYear(t *testing.T) {
	tests := []struct {
		arg     string
		want    int
		wantErr bool
	}{
		{arg: "2019", want: 2019},
		{arg: " 2012 ", want: 2012},
		{arg: "2011", wantErr: true},
		{arg: "20x9", wantErr: true},
		{arg: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := ParseYear(tt.arg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidYear)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
