// Package detect finds the project file the user most recently saved under a
// well-known directory tree.
package detect

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/bolasblack/coldaw-export/internal/util"
)

// Recency windows for the two detection call sites.
const (
	// StartupWindow offers a plausible "recently worked on" file.
	StartupWindow = 30 * time.Minute
	// SaveWindow limits detection to files that were just saved.
	SaveWindow = 5 * time.Minute
)

// FileRef identifies a project file and the modification time last seen for it.
type FileRef struct {
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
}

// Name returns the file name without its extension.
func (f *FileRef) Name() string {
	if f == nil {
		return ""
	}
	base := filepath.Base(f.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FileName returns the file name including its extension.
func (f *FileRef) FileName() string {
	if f == nil {
		return ""
	}
	return filepath.Base(f.Path)
}

// HasProjectExt reports whether path carries the project file extension.
func HasProjectExt(path string) bool {
	return strings.EqualFold(filepath.Ext(path), util.ProjectFileExt)
}

// Stat returns a FileRef for path if it is an existing regular file.
func Stat(fs afero.Fs, path string) (*FileRef, bool) {
	info, err := fs.Stat(path)
	if err != nil || info.IsDir() {
		return nil, false
	}
	return &FileRef{Path: path, ModTime: info.ModTime()}, true
}

// FindMostRecent walks root and returns the project file with the greatest
// modification time strictly after minModTime, or nil if none qualifies.
// Unreadable subtrees are skipped.
func FindMostRecent(fs afero.Fs, root string, minModTime time.Time) *FileRef {
	if _, err := fs.Stat(root); err != nil {
		return nil
	}

	var best *FileRef
	_ = afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || !HasProjectExt(path) {
			return nil
		}

		mod := info.ModTime()
		if !mod.After(minModTime) {
			return nil
		}
		// Ties go to the later entry in walk order.
		if best == nil || !mod.Before(best.ModTime) {
			best = &FileRef{Path: path, ModTime: mod}
		}
		return nil
	})
	return best
}

// Detector binds FindMostRecent to a root directory and clock.
type Detector struct {
	Fs   afero.Fs
	Root string
	Now  func() time.Time
}

// Recent returns the most recent project file saved within window.
func (d *Detector) Recent(window time.Duration) *FileRef {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return FindMostRecent(d.Fs, d.Root, now().Add(-window))
}
