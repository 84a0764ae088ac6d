package util

import (
	"os/exec"
)

// CommandRunner launches external commands.
type CommandRunner interface {
	// Start launches a command without waiting for it to exit.
	Start(name string, args ...string) error
}

// DefaultCommandRunner runs commands on the host through os/exec.
type DefaultCommandRunner struct{}

// NewCommandRunner creates a new DefaultCommandRunner.
func NewCommandRunner() *DefaultCommandRunner {
	return &DefaultCommandRunner{}
}

func (r *DefaultCommandRunner) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	// Reap the child so it does not linger as a zombie.
	go func() { _ = cmd.Wait() }()
	return nil
}
