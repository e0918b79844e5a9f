package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesJSONOutsideDevelopment(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "production", "")
	logger.Debug().Msg("hidden")
	logger.Info().Str("job_id", "job-1").Msg("visible")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "visible", line["message"])
	assert.Equal(t, "job-1", line["job_id"])
	assert.Equal(t, "manga-studio", line["service"])
}

func TestNewLoggerLevelOverride(t *testing.T) {
	logger := newLogger(&bytes.Buffer{}, "development", "warn")
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger = newLogger(&bytes.Buffer{}, "development", "nonsense")
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
}
