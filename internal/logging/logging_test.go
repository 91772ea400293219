package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("loud", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestTimingLogsCompletion(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("debug", &buf)
	require.NoError(t, err)

	done := Timing(log, "export 2019")
	done()

	out := buf.String()
	assert.Contains(t, out, "Starting: export 2019")
	assert.Contains(t, out, "Completed: export 2019")
	assert.Contains(t, out, "took=")
}
