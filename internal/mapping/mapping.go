// Package mapping persists the association between an absolute project file
// path and the user-chosen project-path label. The whole mapping is rewritten
// on every mutation through a temp file that replaces the previous one, so a
// crash mid-write leaves the last committed mapping intact.
package mapping

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	apperrors "github.com/bolasblack/coldaw-export/internal/errors"
	"github.com/bolasblack/coldaw-export/internal/logger"
	"github.com/bolasblack/coldaw-export/internal/util"
)

// FilePath returns the mapping file location inside the app data dir.
func FilePath(appDir string) string {
	return filepath.Join(appDir, util.MappingFilename)
}

// Store keeps an in-memory copy of the mapping consistent with storage.
type Store struct {
	mu     sync.Mutex
	fs     afero.Fs
	path   string
	data   map[string]string
	logger *slog.Logger
}

// Open creates a Store for path and loads whatever is committed there.
func Open(fs afero.Fs, path string, log *slog.Logger) *Store {
	s := &Store{
		fs:     fs,
		path:   path,
		logger: logger.OrDefault(log).With("component", "mapping"),
	}
	s.data = s.Load()
	return s
}

// Load reads the mapping from storage. A missing, unreadable or malformed
// file yields an empty mapping.
func (s *Store) Load() map[string]string {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read project mappings, starting empty", "path", s.path, "error", err)
		}
		return map[string]string{}
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn("failed to parse project mappings, starting empty", "path", s.path, "error", err)
		return map[string]string{}
	}
	if m == nil {
		m = map[string]string{}
	}
	return m
}

// Save overwrites storage with m and makes it the in-memory copy.
func (s *Store) Save(m map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(maps.Clone(m))
}

func (s *Store) saveLocked(m map[string]string) error {
	if m == nil {
		m = map[string]string{}
	}
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apperrors.New(apperrors.KindStorage, "failed to encode project mappings", err)
	}
	if err := writeAtomic(s.fs, s.path, buf); err != nil {
		return apperrors.New(apperrors.KindStorage, "failed to save project mappings", err)
	}
	s.data = m
	return nil
}

// Get returns the label saved for path.
func (s *Store) Get(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	label, ok := s.data[path]
	return label, ok
}

// Set records label for path and persists the mapping. On failure the
// in-memory copy is left unchanged.
func (s *Store) Set(path, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.data[path]; ok && cur == label {
		return nil
	}
	next := maps.Clone(s.data)
	next[path] = label
	return s.saveLocked(next)
}

// Snapshot returns a copy of the in-memory mapping.
func (s *Store) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.data)
}

// writeAtomic writes data to a sibling temp file and renames it over path.
func writeAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create mapping dir: %w", err)
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("failed to replace mapping file: %w", err)
	}
	return nil
}
