package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// appDirName is the subdirectory within the user's data directory where snapshots are stored
	appDirName = "jira-notify"
)

// DataDir returns the directory holding filter snapshots, honoring XDG_DATA_HOME
func DataDir() (string, error) {
	var dataDir string

	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		dataDir = xdgDataHome
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot obtain user home dir: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, appDirName, "snapshots"), nil
}
