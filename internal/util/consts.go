package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// Application-level names relative to the user's config and home directories.
const (
	AppDirName          = "ColDaw"
	SettingsFilename    = "settings.toml"
	StateFilename       = "state.json"
	MappingFilename     = "project_mappings.json"
	ProjectFileExt      = ".als"
	DefaultProjectsRoot = "Music/Ableton"
)

// AppDataDir returns the per-user application data directory.
func AppDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(base, AppDirName), nil
}

// DefaultProjectsDir returns the directory scanned for project files when the
// settings do not override it.
func DefaultProjectsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultProjectsRoot
	}
	return filepath.Join(home, DefaultProjectsRoot)
}
