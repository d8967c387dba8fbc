package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/sshswitch/internal/infrastructure/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not one JSON record: %v (%q)", err, buf.String())
	}
	return entry
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "1.2.3", &buf)

	log.Info("switched", "device_id", "garage-pi")

	entry := decodeLine(t, &buf)
	want := map[string]string{
		"msg":       "switched",
		"service":   "sshswitch",
		"version":   "1.2.3",
		"device_id": "garage-pi",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}
}

func TestNewWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggingConfig{Level: "debug", Format: "TEXT"}, "dev", &buf)

	log.Debug("probe")

	out := buf.String()
	for _, want := range []string{"level=DEBUG", "msg=probe", "service=sshswitch"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestNewWithWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggingConfig{Level: "warn"}, "dev", &buf)

	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %q", buf.String())
	}

	log.Warn("shown")
	if decodeLine(t, &buf)["msg"] != "shown" {
		t.Errorf("warn record missing")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWithWriter(config.LoggingConfig{}, "dev", &buf)
	child := parent.With("component", "ssh")

	if child == parent {
		t.Fatal("With() returned the parent")
	}

	child.Info("dial")
	if got := decodeLine(t, &buf)["component"]; got != "ssh" {
		t.Errorf("component = %v, want ssh", got)
	}
}

func TestOutputFor(t *testing.T) {
	if outputFor("stderr") == outputFor("stdout") {
		t.Error("stderr and stdout should differ")
	}
	if outputFor("") != outputFor("stdout") {
		t.Error("empty output should default to stdout")
	}
}

func TestDiscardAndDefault(t *testing.T) {
	Discard().Error("dropped", "key", "value")

	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
}
