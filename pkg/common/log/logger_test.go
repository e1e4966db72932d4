package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelWarn))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below level were emitted: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("messages at or above level missing: %s", out)
	}
}

func TestFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelDebug))

	logger.Info("value is %d", 42)

	if !strings.Contains(buf.String(), "value is 42") {
		t.Errorf("formatted message missing: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "[INFO]") {
		t.Errorf("level tag missing: %s", buf.String())
	}
}

func TestWithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf))

	child := logger.WithField("device", "image.bin")
	child.Info("opened")

	if !strings.Contains(buf.String(), "device=image.bin") {
		t.Errorf("field missing from output: %s", buf.String())
	}

	buf.Reset()
	logger.Info("no fields")
	if strings.Contains(buf.String(), "device=") {
		t.Errorf("field leaked into parent logger: %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Info("dropped")
	logger.WithField("k", "v").Error("also dropped")
}

func TestLevelString(t *testing.T) {
	if LevelDebug.String() != "DEBUG" || LevelError.String() != "ERROR" {
		t.Errorf("unexpected level names: %s %s", LevelDebug, LevelError)
	}
	if Level(99).String() != "LEVEL(99)" {
		t.Errorf("unexpected fallback name: %s", Level(99))
	}
}
