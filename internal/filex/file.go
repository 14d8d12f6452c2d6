package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// userConfigDir is a test seam for os.UserConfigDir.
var userConfigDir = os.UserConfigDir

// EnsureSubDir creates dirName under base (the working directory when base
// is empty) and returns its absolute path.
func EnsureSubDir(base, dirName string) (string, error) {
	if base == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getwd: %w", err)
		}
		base = cwd
	}

	dir := filepath.Join(base, dirName)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	return dir, nil
}

// EnsureConfigDir creates the per-user configuration directory for app.
func EnsureConfigDir(app string) (string, error) {
	base, err := userConfigDir()
	if err != nil {
		return "", fmt.Errorf("config dir: %w", err)
	}
	return EnsureSubDir(base, app)
}
