package util

import (
	"github.com/spf13/afero"
)

// Env contains environment dependencies that can be mocked for testing.
type Env struct {
	// Fs is the filesystem to use for file operations.
	Fs afero.Fs
	// Cmd launches external commands.
	Cmd CommandRunner
}

// NewEnv creates an Env with the given filesystem.
func NewEnv(fs afero.Fs) *Env {
	return &Env{Fs: fs, Cmd: NewCommandRunner()}
}

// NewOsEnv creates an Env backed by the host filesystem.
func NewOsEnv() *Env {
	return NewEnv(afero.NewOsFs())
}

// NewTestEnv creates an Env with in-memory filesystem and mock command runner (for testing).
func NewTestEnv() *Env {
	return &Env{
		Fs:  afero.NewMemMapFs(),
		Cmd: NewMockCommandRunner(),
	}
}
