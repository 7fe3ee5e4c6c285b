// Package atomicfile replaces files so that readers never observe a
// partially written one.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// WorkInProgressSuffix names the sibling file content is staged in before
// it is renamed over the destination.
const WorkInProgressSuffix = ".wip"

// WriteFile writes data to path+WorkInProgressSuffix and renames it over
// path, creating missing parent directories. The staging file is removed
// when the rename fails.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	tmp := path + WorkInProgressSuffix
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
