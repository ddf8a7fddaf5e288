// Package fsutil holds the small set of filesystem primitives every
// filesystem-backed SLAPS component relies on: atomic writes, same-device
// checks, and best-effort appends. Centralizing them keeps the "atomic
// rename is the sole mutation primitive" invariant (spec.md §4.1) in one
// place instead of re-implemented per component.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// AtomicWriteFile writes data by creating a temp file in dir's directory
// and renaming it into place, so readers never observe a partial write
// (spec.md §4.7: "Writes are atomic (write-temp-then-rename)").
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("fsutil: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("fsutil: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fsutil: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("fsutil: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("fsutil: rename into place: %w", err)
	}
	return nil
}

// AppendBestEffort appends text to path, creating it if needed. A single
// failure is returned to the caller but never retried — per spec.md §7,
// "append I/O failures are swallowed after a single attempt" at the call
// site, not inside this helper.
func AppendBestEffort(path, text string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("fsutil: open for append: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("fsutil: append: %w", err)
	}
	return nil
}

// SameDevice reports whether every path in dirs resides on the same
// filesystem device, required by spec.md §4.1: "The store refuses to
// start if the six state directories span multiple devices."
func SameDevice(dirs ...string) (bool, error) {
	var first uint64
	for i, d := range dirs {
		dev, err := deviceOf(d)
		if err != nil {
			return false, err
		}
		if i == 0 {
			first = dev
			continue
		}
		if dev != first {
			return false, nil
		}
	}
	return true, nil
}

// EnsureDirs creates each directory (and parents) if absent.
func EnsureDirs(dirs ...string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("fsutil: mkdir %s: %w", d, err)
		}
	}
	return nil
}

// ReadFileIfExists returns path's contents, or (nil, nil) if it doesn't
// exist yet — the common "cache file not written yet" case, distinct
// from a real read error.
func ReadFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fsutil: read %s: %w", path, err)
	}
	return data, nil
}

// ReadDirSorted lists the base names of regular files directly in dir,
// sorted lexicographically, skipping subdirectories. It does not filter
// by file name; fsqueue drops names that are not task files when it
// parses the listing.
func ReadDirSorted(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fsutil: read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
