package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	before := testutil.ToFloat64(FilesWritten.WithLabelValues("1999"))
	FilesWritten.WithLabelValues("1999").Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(FilesWritten.WithLabelValues("1999")))

	path := filepath.Join(t.TempDir(), "textfile", "naics.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `naics_export_files_total{year="1999"}`)
}

func TestWriteTextfileNoPath(t *testing.T) {
	assert.NoError(t, WriteTextfile(""))
}
