// Package jsonstore persists small pieces of gateway state as whole JSON
// files — each vendor's stats (aggregate plus log ring) and live-patchable
// config; the model catalog cache is not stored here — grounded on original_source's
// save_user_config/save_server_status (serde_json::to_string_pretty +
// fs::write, one file per concern). Writes go through a temp file plus
// rename so a crash mid-write never leaves a half-written file behind,
// which the original's direct fs::write does not guard against.
package jsonstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a mutex-guarded JSON document backed by one path on disk. Callers
// hold the type they marshal; File only knows how to read and atomically
// rewrite bytes.
type File struct {
	path string
	mu   sync.Mutex
}

func New(path string) *File {
	return &File{path: path}
}

// Load decodes the file into dst. A missing file leaves dst untouched and
// returns nil, so callers can default-initialize before calling Load.
func (f *File) Load(dst any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse %s: %w", f.path, err)
	}
	return nil
}

// Save serializes v as indented JSON and writes it to a temp file in the
// same directory before renaming over the target, so readers never observe
// a partially-written file.
func (f *File) Save(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", f.path, err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", f.path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", f.path, err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("rename into %s: %w", f.path, err)
	}
	return nil
}
