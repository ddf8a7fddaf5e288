//go:build !windows

package fsutil

import (
	"fmt"
	"os"
	"syscall"
)

func deviceOf(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("fsutil: stat %s: %w", path, err)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("fsutil: stat %s: unsupported platform", path)
	}
	return uint64(stat.Dev), nil
}
