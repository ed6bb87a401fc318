package core

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

// TestSlogLogger verifies fields become slog attributes and levels are honored
// Given: A SlogLogger over a text handler at Info level
// When: Debug, Info and Error are logged
// Then: Debug is filtered and the rest carry their fields
func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	l.Debug("hidden", F("k", 1))
	l.Info("job done", F("job", "render"), F("worker", 2))
	l.Error("job panicked", F("panic", "boom"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line should be filtered: %q", out)
	}
	for _, want := range []string{"level=INFO", `msg="job done"`, "job=render", "worker=2", "level=ERROR", "panic=boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}

// TestNewSlogLogger_NilUsesDefault verifies the nil fallback
func TestNewSlogLogger_NilUsesDefault(t *testing.T) {
	l := NewSlogLogger(nil)
	if l.l != slog.Default() {
		t.Error("nil logger should wrap slog.Default()")
	}
}

// TestLoggers_Interface verifies every logger satisfies Logger
func TestLoggers_Interface(t *testing.T) {
	loggers := []Logger{NewDefaultLogger(), NewNoOpLogger(), NewSlogLogger(nil)}
	for _, l := range loggers {
		l.Debug("debug", F("a", 1))
	}
}
