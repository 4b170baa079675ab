package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "json", "info")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Debug("hidden")
	l.Info("redmetrics: connected", "player", "p-1")

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("output is not one JSON line: %v (%q)", err, buf.String())
	}
	if m["msg"] != "redmetrics: connected" || m["player"] != "p-1" {
		t.Errorf("record = %v", m)
	}
}

func TestNew_Console(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	l, err := New(&buf, "console", "debug")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.With("component", "agent").WithGroup("flush").Debug("done", "events", 3)

	out := buf.String()
	for _, want := range []string{"| DEBUG |", "done", "component=agent", "flush.events=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestNew_UnknownFormat(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "xml", "info"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel(loud) should fail")
	}
}

func TestConsoleHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewConsoleHandler(&buf, slog.LevelWarn))
	l.Info("skip")
	if buf.Len() != 0 {
		t.Errorf("info written below warn threshold: %q", buf.String())
	}
}
