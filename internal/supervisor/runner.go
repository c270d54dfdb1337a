package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"
)

// Invocation describes one subprocess run. Dir is set per call; the
// control process never changes its own working directory.
type Invocation struct {
	Dir  string
	Env  []string
	Name string
	Args []string
}

// Runner executes supervisor commands
type Runner interface {
	// Run executes the invocation to completion and returns its stdout and stderr
	Run(ctx context.Context, inv Invocation) (stdout, stderr []byte, err error)
	// Start launches a long-lived invocation whose output is read through the returned Stream
	Start(ctx context.Context, inv Invocation) (Stream, error)
}

// Stream is a running subprocess with two output channels
type Stream interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the subprocess exits. Call it only after both readers reached EOF.
	Wait() error
	// Kill force-terminates the subprocess
	Kill() error
}

// ExecRunner runs invocations with os/exec
type ExecRunner struct{}

func (ExecRunner) command(ctx context.Context, inv Invocation) *exec.Cmd {
	cmd := exec.CommandContext(ctx, inv.Name, inv.Args...)
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}
	return cmd
}

// Run executes the invocation and captures both output channels
func (r ExecRunner) Run(ctx context.Context, inv Invocation) ([]byte, []byte, error) {
	cmd := r.command(ctx, inv)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Start launches the invocation with piped output
func (r ExecRunner) Start(ctx context.Context, inv Invocation) (Stream, error) {
	cmd := r.command(ctx, inv)
	// bounds Wait if a grandchild keeps the pipes open after a kill
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execStream{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execStream struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (s *execStream) Stdout() io.Reader { return s.stdout }
func (s *execStream) Stderr() io.Reader { return s.stderr }
func (s *execStream) Wait() error       { return s.cmd.Wait() }

func (s *execStream) Kill() error {
	if s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
