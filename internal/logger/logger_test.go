package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"chatty":  zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Info().Msg("hidden")
	log.Warn().Str("table", "Dog").Msg("rebuilding")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "Dog", entry["table"])
	assert.Equal(t, "rebuilding", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "console", Output: &buf})

	log.Debug().Str("model", "Person").Msg("renamed")
	out := buf.String()
	assert.Contains(t, out, "renamed")
	assert.Contains(t, out, "model=Person")
	assert.NotContains(t, out, "\x1b[", "non-terminal output is uncoloured")
}
