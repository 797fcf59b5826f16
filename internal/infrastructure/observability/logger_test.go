package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("nonsense"))
}

func TestEventLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := EventLogger(InitLogger("info", "billingsync-api", &buf), "stripe", "evt_1", "invoice.payment_failed")

	logger.Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "billingsync-api", line["service"])
	assert.Equal(t, "stripe", line["provider"])
	assert.Equal(t, "evt_1", line["event_id"])
	assert.Equal(t, "invoice.payment_failed", line["event_kind"])
}

func TestInitLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger("warn", "svc", &buf)

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("kept")
	assert.NotZero(t, buf.Len())
}

func TestLogOutput(t *testing.T) {
	var buf bytes.Buffer

	assert.Same(t, &buf, LogOutput("json", &buf))

	logger := InitLogger("info", "billingsync-worker", LogOutput("console", &buf))
	logger.Info().Msg("sweep finished")
	assert.Contains(t, buf.String(), "sweep finished")
	assert.False(t, json.Valid(buf.Bytes()))
}
