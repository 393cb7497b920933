package logger

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcvext/config"
)

func TestNewJSONFileLogger(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LoggerConfig{Level: "info", Format: "json", Output: filepath.Join(dir, "logs", "{name}_{pid}.log")}

	log, closer, err := New(cfg, "echo")
	require.NoError(t, err)

	log.Info("test message", "key", "value")
	log.Debug("filtered out")
	require.NoError(t, closer())

	path := filepath.Join(dir, "logs", "echo_"+strconv.Itoa(os.Getpid())+".log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, "echo", entry["program"])
}

func TestNewRejectsStdout(t *testing.T) {
	_, _, err := New(config.LoggerConfig{Output: "stdout"}, "echo")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), "parseLevel(%q)", tt.input)
	}
}

func TestOpenOutputStderr(t *testing.T) {
	for _, output := range []string{"stderr", ""} {
		w, closer, err := openOutput(output)
		require.NoError(t, err)
		assert.Equal(t, os.Stderr, w)
		assert.NoError(t, closer())
	}
}
