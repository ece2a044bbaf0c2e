package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// configDirName is a directory in the user's config directory where jira-notify configuration is stored
	configDirName string = "jira-notify"
)

// MustConfigDir returns the jira-notify configuration directory, honoring JIRA_NOTIFY_CONFIG_DIR
func MustConfigDir() string {
	if dir := os.Getenv("JIRA_NOTIFY_CONFIG_DIR"); dir != "" {
		return dir
	}

	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		panic(fmt.Errorf("cannot obtain user config dir: %w", err))
	}

	return filepath.Join(userConfigDir, configDirName)
}
