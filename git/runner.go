package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes a command in a directory and returns its trimmed
// stdout. Repo methods go through a runner so tests can script git without
// touching a real repository.
type CommandRunner interface {
	Run(dir, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// NewExecRunner returns the default runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run implements CommandRunner.
func (ExecRunner) Run(dir, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg != "" {
			return strings.TrimSpace(stdout.String()), fmt.Errorf("%s: %s", name, msg)
		}
		return strings.TrimSpace(stdout.String()), err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// mockStep is one scripted response of a SequentialMockRunner.
type mockStep struct {
	output string
	err    error
}

// SequentialMockRunner replays scripted outputs in order and records every
// command it receives. Running past the script fails the command.
type SequentialMockRunner struct {
	steps []mockStep

	// Calls holds each executed command as "name arg1 arg2 ...".
	Calls []string
}

// NewSequentialMockRunner returns an empty scripted runner.
func NewSequentialMockRunner() *SequentialMockRunner {
	return &SequentialMockRunner{}
}

// AddOutput appends one scripted response.
func (m *SequentialMockRunner) AddOutput(output string, err error) {
	m.steps = append(m.steps, mockStep{output: output, err: err})
}

// AddFailure appends a scripted failure with the given message.
func (m *SequentialMockRunner) AddFailure(message string) {
	m.steps = append(m.steps, mockStep{err: fmt.Errorf("%s", message)})
}

// Run implements CommandRunner.
func (m *SequentialMockRunner) Run(dir, name string, args ...string) (string, error) {
	m.Calls = append(m.Calls, strings.Join(append([]string{name}, args...), " "))
	if len(m.Calls) > len(m.steps) {
		return "", fmt.Errorf("unscripted command: %s", m.Calls[len(m.Calls)-1])
	}
	step := m.steps[len(m.Calls)-1]
	return step.output, step.err
}
