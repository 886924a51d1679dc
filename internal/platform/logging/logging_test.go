package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: FormatJSON, Level: "debug"}, &buf)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	logger.Debug("hello", "run", "e1_run_1")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, buf.String())
	}
	if line["msg"] != "hello" || line["run"] != "e1_run_1" || line["component"] != "mlregistry" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestNewTextFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: FormatText, Level: "warn"}, &buf)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestValidate(t *testing.T) {
	if err := (Config{Format: "xml"}).Validate(); err == nil {
		t.Fatalf("Validate() expected error for format")
	}
	if err := (Config{Level: "loud"}).Validate(); err == nil {
		t.Fatalf("Validate() expected error for level")
	}
	if err := (Config{}).Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MLREG_LOG_FORMAT", "TEXT")
	t.Setenv("MLREG_LOG_LEVEL", "error")
	cfg := ConfigFromEnv(Config{Format: FormatJSON, Level: "info"})
	if cfg.Format != FormatText || cfg.Level != "error" {
		t.Fatalf("ConfigFromEnv()=%+v", cfg)
	}
}
