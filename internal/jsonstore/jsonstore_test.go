package jsonstore

import (
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "sample.json"))

	if err := f.Save(sample{Name: "a", Count: 3}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var got sample
	if err := f.Load(&got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != "a" || got.Count != 3 {
		t.Fatalf("got %+v", got)
	}
}

func TestLoadMissingFileLeavesDestUntouched(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "missing.json"))

	got := sample{Name: "default", Count: 1}
	if err := f.Load(&got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != "default" || got.Count != 1 {
		t.Fatalf("expected default left untouched, got %+v", got)
	}
}

func TestSaveOverwritesPreviousContent(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "sample.json"))

	if err := f.Save(sample{Name: "first", Count: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := f.Save(sample{Name: "second", Count: 2}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var got sample
	if err := f.Load(&got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != "second" || got.Count != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestNoTempFilesLeftBehindAfterSave(t *testing.T) {
	dir := t.TempDir()
	f := New(filepath.Join(dir, "sample.json"))
	if err := f.Save(sample{Name: "a"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := filepath.Glob(filepath.Join(dir, "*.tmp-*"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftover temp files, got %v", entries)
	}
}
