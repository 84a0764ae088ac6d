// Package state provides tracking state management for the exporter.
// It maintains a local state file (state.json in the app data dir) that
// remembers which project file is tracked across CLI invocations, so the
// modification watermark survives between `coldaw watch` runs.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/bolasblack/coldaw-export/internal/detect"
	"github.com/bolasblack/coldaw-export/internal/util"
)

// CurrentVersion is the current state file version.
const CurrentVersion = "1"

// State represents the persistent tracking state.
type State struct {
	// Version of the state file layout.
	Version string `json:"version"`
	// InstallID is a unique UUID for this installation, sent with uploads.
	InstallID string `json:"install_id"`
	// CreatedAt is when the state was first created.
	CreatedAt time.Time `json:"created_at"`
	// Current is the file actively tracked for export.
	Current *detect.FileRef `json:"current,omitempty"`
	// Watermark is the modification time last synced for Current.
	Watermark time.Time `json:"watermark,omitzero"`
	// Detected is a candidate found by startup detection, not yet adopted.
	Detected *detect.FileRef `json:"detected,omitempty"`
	// LastProjectID is the server id returned by the last successful upload.
	LastProjectID string `json:"last_project_id,omitempty"`
}

// FilePath returns the path to the state file for the given app data dir.
func FilePath(appDir string) string {
	return filepath.Join(appDir, util.StateFilename)
}

// Load reads the state file from the given app data directory.
// Returns nil and no error if the state file does not exist.
func Load(fs afero.Fs, appDir string) (*State, error) {
	data, err := afero.ReadFile(fs, FilePath(appDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &st, nil
}

// Save writes the state file, creating the app data directory if needed.
func Save(fs afero.Fs, appDir string, st *State) error {
	if err := fs.MkdirAll(appDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := afero.WriteFile(fs, FilePath(appDir), data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// LoadOrCreate loads the state file if it exists, or creates a new one.
// A corrupt state file is replaced rather than blocking startup.
func LoadOrCreate(fs afero.Fs, appDir string) (*State, bool, error) {
	st, err := Load(fs, appDir)
	if err == nil && st != nil {
		if st.InstallID == "" {
			st.InstallID = uuid.New().String()
			if err := Save(fs, appDir, st); err != nil {
				return nil, false, err
			}
		}
		return st, false, nil
	}

	st = &State{
		Version:   CurrentVersion,
		InstallID: uuid.New().String(),
		CreatedAt: time.Now(),
	}
	if err := Save(fs, appDir, st); err != nil {
		return nil, true, err
	}
	return st, true, nil
}

// Delete removes the state file (but not the app data directory).
func Delete(fs afero.Fs, appDir string) error {
	err := fs.Remove(FilePath(appDir))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

// Track records the tracking values reported by the engine.
func (s *State) Track(current *detect.FileRef, watermark time.Time, detected *detect.FileRef) {
	s.Current = current
	s.Watermark = watermark
	s.Detected = detected
}
