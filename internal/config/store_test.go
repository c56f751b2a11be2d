package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestOpenFileStoreCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("settings file not created: %v", err)
	}
	if s.Has(KeyGlobal) {
		t.Fatal("new store is not empty")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set([]string{KeyTrackers, "T1", "macAddress", "bytes"}, []int{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(SplitPath("global.trackers.wiredTrackerEnabled"), true); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	v, ok := reopened.Get(KeyTrackers, "T1", "macAddress", "bytes")
	if !ok {
		t.Fatal("address missing after reopen")
	}
	if !reflect.DeepEqual(v, []any{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("address = %#v", v)
	}
	if !LoadSettings(reopened).WiredTrackerEnabled {
		t.Fatal("wired flag lost")
	}
}

func TestMergeReplacesArrays(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Set([]string{"a", "list"}, []any{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := s.Set([]string{"a", "keep"}, "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Merge(map[string]any{"a": map[string]any{"list": []any{9}}}); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Get("a", "list"); !reflect.DeepEqual(v, []any{9}) {
		t.Fatalf("list = %#v", v)
	}
	if v, _ := s.Get("a", "keep"); v != "x" {
		t.Fatalf("sibling key lost: %#v", v)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Set([]string{"a", "b"}, 1); err != nil {
		t.Fatal(err)
	}
	v, _ := s.Get("a")
	v.(map[string]any)["b"] = 2
	if got, _ := s.Get("a", "b"); got != 1 {
		t.Fatalf("store mutated through Get: %v", got)
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	s := NewMemoryStore()
	got := LoadSettings(s)
	if got.HeartbeatInterval != DefaultHeartbeatInterval || got.LoggingMode != DefaultLoggingMode {
		t.Fatalf("defaults = %+v", got)
	}

	_ = s.Set(SplitPath("global.trackers.heartbeatInterval"), 500)
	_ = s.Set(SplitPath("global.debug.loggingMode"), 3)
	got = LoadSettings(s)
	if got.HeartbeatInterval != 500*time.Millisecond || got.LoggingMode != 3 {
		t.Fatalf("settings = %+v", got)
	}
	if LogLevel(got.LoggingMode) != "TRACE" {
		t.Fatalf("log level = %s", LogLevel(got.LoggingMode))
	}
}
