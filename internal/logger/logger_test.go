package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"none":    LevelNone,
		"bogus":   LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelWarn, &buf, "")

	l.Debug("dropped debug")
	l.Info("dropped info")
	l.Warn("kept warning")
	l.Error("kept error")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("Expected debug/info to be filtered, got: %s", out)
	}
	if !strings.Contains(out, "kept warning") || !strings.Contains(out, "kept error") {
		t.Errorf("Expected warn/error in output, got: %s", out)
	}
}

func TestWithPrefixChains(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelInfo, &buf, "runner")

	l.WithPrefix("dsl").Info("hello")

	if !strings.Contains(buf.String(), "runner:dsl") {
		t.Errorf("Expected chained prefix in output, got: %s", buf.String())
	}
}

func TestDiscardDropsEverything(t *testing.T) {
	l := Discard()
	// Must be callable without a backing writer or file.
	l.Debug("x")
	l.Error("x")
	if err := l.Close(); err != nil {
		t.Errorf("Close on discard logger failed: %v", err)
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelError, &buf, "")

	l.Info("before")
	l.SetLevel(LevelDebug)
	l.Info("after")

	out := buf.String()
	if strings.Contains(out, "before") {
		t.Errorf("Expected pre-SetLevel info to be filtered, got: %s", out)
	}
	if !strings.Contains(out, "after") {
		t.Errorf("Expected post-SetLevel info in output, got: %s", out)
	}
}
