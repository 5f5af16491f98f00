package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{" Warn ", WARN},
		{"error", ERROR},
		{"", INFO},
		{"verbose", INFO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLogLevel(tt.in), tt.in)
	}
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("WARN", &buf, true)

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	assert.Zero(t, buf.Len())

	l.Warn("shown %s", "warn")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "shown warn", entry["message"])
	assert.Equal(t, "mediaproxy", entry["service"])
}

func TestSetLevel(t *testing.T) {
	l := New("error")
	assert.Equal(t, "ERROR", l.GetLevel())
	l.SetLevel("debug")
	assert.Equal(t, "DEBUG", l.GetLevel())
}
