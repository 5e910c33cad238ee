package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"trace", LevelTrace},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warning", LevelWarn},
		{" error ", LevelError},
		{"off", LevelNone},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestGetLevelFromEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	assert.Equal(t, LevelWarn, GetLevelFromEnv())
}

func TestJSONLogEntryString(t *testing.T) {
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(JSONLogEntry{Message: "hello"}.String()), &parsed))
	assert.Equal(t, "hello", parsed["message"])
	assert.Equal(t, "INFO", parsed["severity"])
}

func TestJSONLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	l := NewJSONLoggerWithSink(&buf, LevelDebug).(*jsonLogger)
	l.ts = &ts

	log := l.WithPrefix("[cache]").With(map[string]interface{}{"backend": "in-process"})
	log.Trace("dropped")
	log.Warn("fallback after %d failures", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry JSONLogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARNING", entry.Severity)
	assert.Equal(t, "fallback after 3 failures", entry.Message)
	assert.Equal(t, "cache", entry.Component)
	assert.Equal(t, "in-process", entry.Metadata["backend"])
	assert.True(t, ts.Equal(entry.Timestamp))
}

func TestConsoleLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(LevelNone)
	l.SetSink(&buf, LevelInfo)
	log := l.WithPrefix("[server]")
	log.Debug("skipped")
	log.Info("listening on %s", ":8000")

	out := buf.String()
	assert.Contains(t, out, "[INFO ]")
	assert.Contains(t, out, "[server] listening on :8000")
	assert.NotContains(t, out, "skipped")
	assert.NotContains(t, out, "\x1b[")
}

func TestNewSelectsFormat(t *testing.T) {
	_, isJSON := New("json", LevelInfo).(*jsonLogger)
	assert.True(t, isJSON)
	_, isConsole := New("console", LevelInfo).(*consoleLogger)
	assert.True(t, isConsole)
}

func TestTestLoggerConcurrent(t *testing.T) {
	l := NewTestLogger()
	child := l.With(map[string]interface{}{"k": "v"})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			child.Info("entry %d", 1)
		}()
	}
	wg.Wait()
	assert.Len(t, l.Logs(), 50)
	assert.True(t, l.Contains("INFO", "entry 1"))
	assert.Equal(t, "v", child.(*TestLogger).Metadata()["k"])
}
