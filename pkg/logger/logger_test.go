package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", &buf)

	log.Debug("hidden")
	log.Info("also hidden")
	log.Warn("visible")
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "visible", entry["msg"])
	assert.Contains(t, entry, "time")
}

func TestNewFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("loud", &buf)

	log.Debug("hidden")
	log.Info("visible")
	require.NoError(t, log.Sync())

	assert.Contains(t, buf.String(), `"visible"`)
	assert.NotContains(t, buf.String(), `"hidden"`)
}
