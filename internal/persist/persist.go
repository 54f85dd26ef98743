// Package persist provides atomic JSON snapshot helpers for the stores
// that survive restarts: backlog, campaign history, audit schedules, and
// lessons. Writes go through a temp file and rename so a crash mid-write
// never leaves a truncated snapshot behind.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"mastermind/internal/logging"
)

// SaveJSON writes v to path as indented JSON. The parent directory is
// created if needed. The write lands in a temp file in the same
// directory and is renamed into place, so concurrent readers observe
// either the old snapshot or the new one, never a partial file.
func SaveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to path via temp-file-and-rename.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LoadJSON fills v from the JSON snapshot at path. A missing file leaves
// v untouched and returns false. A corrupt or unreadable file is logged
// and treated the same way, so callers always start from a usable state.
func LoadJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.PersistWarn("read %s: %v, starting empty", path, err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		logging.PersistWarn("parse %s: %v, starting empty", path, err)
		return false
	}
	return true
}
