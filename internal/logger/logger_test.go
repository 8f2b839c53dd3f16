package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterProdEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "prod", "")

	log.Info().Str("room", "ABC123").Msg("room created")
	log.Debug().Msg("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "room created", line["message"])
	assert.Equal(t, "ABC123", line["room"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		env   string
		want  zerolog.Level
	}{
		{name: "explicit level wins", level: "warn", env: "prod", want: zerolog.WarnLevel},
		{name: "prod default", level: "", env: "prod", want: zerolog.InfoLevel},
		{name: "local default", level: "", env: "local", want: zerolog.DebugLevel},
		{name: "garbage falls back", level: "loud", env: "dev", want: zerolog.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.level, tt.env))
		})
	}
}
