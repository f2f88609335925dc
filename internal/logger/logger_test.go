package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("Invalid log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"":      zerolog.InfoLevel,
		"loud":  zerolog.InfoLevel,
	}
	for name, want := range tests {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestLogForkAndMerge(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: "info", Output: &buf})

	log.LogFork("product", "p1", "v1", time.Millisecond, nil)
	log.LogMerge("v1", 2, 3, time.Millisecond, errors.New("boom"))

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d", len(lines))
	}
	if lines[0]["event"] != "fork" || lines[0]["version_id"] != "v1" || lines[0]["service"] != "entityversion" {
		t.Errorf("Unexpected fork line: %v", lines[0])
	}
	if lines[1]["level"] != "error" || lines[1]["error"] != "boom" || lines[1]["replayed"] != float64(3) {
		t.Errorf("Unexpected merge line: %v", lines[1])
	}
}

func TestDebugEventsFilteredByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: "info", Output: &buf})

	log.LogStoreOperation("insert", "product", time.Millisecond, 1, nil)
	log.LogCommit("c1", "v1", "insert", 1)
	if buf.Len() != 0 {
		t.Errorf("Expected debug events to be dropped, got %q", buf.String())
	}

	log.LogStoreOperation("insert", "product", time.Millisecond, 1, errors.New("duplicate"))
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["operation"] != "insert" {
		t.Errorf("Expected failed operation to be logged, got %v", lines)
	}
}

func TestComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: "debug", Output: &buf}).
		Component("version").
		WithFields(map[string]interface{}{"tenant": "t1"})

	log.Debug("hello").Send()

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(lines))
	}
	if lines[0]["component"] != "version" || lines[0]["tenant"] != "t1" {
		t.Errorf("Unexpected line: %v", lines[0])
	}
}

func TestNopDiscards(t *testing.T) {
	Nop().Error("ignored").Send()
}
