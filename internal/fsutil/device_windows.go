//go:build windows

package fsutil

import "os"

// deviceOf has no cheap equivalent of st_dev on Windows; we conservatively
// report a constant so SameDevice degrades to "assume single volume"
// rather than refusing to start.
func deviceOf(path string) (uint64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	return 0, nil
}
