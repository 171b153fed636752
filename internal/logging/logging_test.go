package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestNew_WritesSessionBannerAndRotatedFile(t *testing.T) {
	dir := t.TempDir()
	logger, cleanup := New(Options{Level: "debug", LogDir: dir, MappingCount: 3})
	defer cleanup()

	if logger == nil {
		t.Fatal("New returned nil logger")
	}
	logger.Info("after banner")
	cleanup()

	data, err := os.ReadFile(filepath.Join(dir, "clustermux.log"))
	if err != nil {
		t.Fatalf("read rotated log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty rotated log file")
	}
}

func TestNew_NoLogDir_StderrOnly(t *testing.T) {
	logger, cleanup := New(Options{Level: "info"})
	defer cleanup()
	if logger == nil {
		t.Fatal("New returned nil logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseLevelFlagValue(t *testing.T) {
	if _, err := ParseLevelFlagValue("debug"); err != nil {
		t.Errorf("unexpected error for valid level: %v", err)
	}
	if v, err := ParseLevelFlagValue(""); err != nil || v != "info" {
		t.Errorf("empty level should default to info, got %q, %v", v, err)
	}
	if _, err := ParseLevelFlagValue("trace"); err == nil {
		t.Error("expected error for invalid level")
	}
}
