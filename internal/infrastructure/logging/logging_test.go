package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New("debug", FormatJSON, &buf)
	require.Equal(t, zerolog.DebugLevel, logger.GetLevel())

	logger.Info().Str("job_id", "A:t1").Msg("queued")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "info", entry["level"])
	require.Equal(t, "A:t1", entry["job_id"])
	require.Equal(t, "queued", entry["message"])
	require.Contains(t, entry, "time")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New("WARN", FormatJSON, &buf)

	logger.Info().Msg("hidden")
	require.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestNew_InvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New("loud", FormatJSON, &buf)

	require.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	require.Contains(t, buf.String(), "invalid log level")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := New("info", "console", &buf)
	logger.Info().Str("stage", "enrich").Msg("stage done")

	out := buf.String()
	require.Contains(t, out, "stage done")
	require.Contains(t, out, "stage=")
	require.False(t, strings.HasPrefix(out, "{"))
}
