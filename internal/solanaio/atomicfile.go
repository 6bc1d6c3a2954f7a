// Package solanaio provides the atomic-rename JSON persistence helpers
// shared by the scheduler, setup-state, and indexer snapshot writers
// (spec §3/§6).
package solanaio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteJSONAtomic marshals v and writes it to path via a temp-file-then-
// rename sequence, so readers never observe a partially-written file.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to path via temp-file-then-rename.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp for %s: %w", path, err)
	}
	return nil
}

// ReadJSON reads and unmarshals the file at path into v. It returns
// os.ErrNotExist (wrapped) unchanged so callers can treat "no file yet" as
// a first-run signal.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// AppendJSONLAtomic appends a single JSON-encoded line to a JSONL file by
// rewriting the whole file via WriteFileAtomic, matching spec §6's
// atomic-rename requirement for obligations.jsonl.
func AppendJSONLAtomic(path string, existing []byte, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal jsonl entry for %s: %w", path, err)
	}
	buf := make([]byte, 0, len(existing)+len(line)+1)
	buf = append(buf, existing...)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	return WriteFileAtomic(path, buf)
}
