package util

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

// MockCommandRunner implements CommandRunner for testing.
// Records all command invocations and returns pre-configured results.
type MockCommandRunner struct {
	mu sync.Mutex

	// commands maps "name arg1 arg2 ..." to MockResult.
	commands map[string]MockResult

	// defaultError is returned for unexpected commands.
	defaultError error

	// Calls records all command invocations in order.
	Calls []CommandCall
}

// MockResult holds the pre-configured error for a command.
type MockResult struct {
	Err error
}

// CommandCall records a single command invocation.
type CommandCall struct {
	Name string
	Args []string
	Key  string // "name arg1 arg2 ..."
}

// NewMockCommandRunner creates a mock that fails on unexpected commands.
func NewMockCommandRunner() *MockCommandRunner {
	return &MockCommandRunner{
		commands:     make(map[string]MockResult),
		defaultError: fmt.Errorf("unexpected command"),
	}
}

// Expect registers a command and the error starting it returns.
// cmd format: "name arg1 arg2 ..." (space-separated).
func (m *MockCommandRunner) Expect(cmd string, err error) *MockCommandRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[cmd] = MockResult{Err: err}
	return m
}

// ExpectSuccess is shorthand for Expect(cmd, nil).
func (m *MockCommandRunner) ExpectSuccess(cmd string) *MockCommandRunner {
	return m.Expect(cmd, nil)
}

// ExpectFailure is shorthand for Expect(cmd, err).
func (m *MockCommandRunner) ExpectFailure(cmd string, err error) *MockCommandRunner {
	return m.Expect(cmd, err)
}

// AllowUnexpected makes unexpected commands succeed.
func (m *MockCommandRunner) AllowUnexpected() *MockCommandRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultError = nil
	return m
}

func (m *MockCommandRunner) record(name string, args []string) (MockResult, error) {
	key := name
	if len(args) > 0 {
		key = name + " " + strings.Join(args, " ")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, CommandCall{
		Name: name,
		Args: args,
		Key:  key,
	})

	if result, ok := m.commands[key]; ok {
		return result, nil
	}
	if m.defaultError != nil {
		return MockResult{}, fmt.Errorf("%w: %s", m.defaultError, key)
	}
	return MockResult{}, nil
}

// Start implements CommandRunner.
func (m *MockCommandRunner) Start(name string, args ...string) error {
	result, err := m.record(name, args)
	if err != nil {
		return err
	}
	return result.Err
}

// Called returns true if the command was called at least once.
func (m *MockCommandRunner) Called(cmd string) bool {
	return m.CallCount(cmd) > 0
}

// CallCount returns how many times the command was called.
func (m *MockCommandRunner) CallCount(cmd string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, call := range m.Calls {
		if call.Key == cmd {
			count++
		}
	}
	return count
}

// AssertCalled fails the test if the command was not called.
func (m *MockCommandRunner) AssertCalled(t *testing.T, cmd string) {
	t.Helper()
	if !m.Called(cmd) {
		t.Errorf("expected command to be called: %s", cmd)
		t.Errorf("actual calls: %v", m.CallKeys())
	}
}

// AssertNotCalled fails the test if the command was called.
func (m *MockCommandRunner) AssertNotCalled(t *testing.T, cmd string) {
	t.Helper()
	if m.Called(cmd) {
		t.Errorf("expected command NOT to be called: %s", cmd)
	}
}

// CallKeys returns all called command keys for debugging.
func (m *MockCommandRunner) CallKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, len(m.Calls))
	for i, call := range m.Calls {
		keys[i] = call.Key
	}
	return keys
}
