package pool

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Process is a running worker's transport and lifecycle handle. The pool
// talks to the worker exclusively through the stdio pair.
type Process interface {
	// Stdin is the pipe carrying request envelopes to the worker.
	Stdin() io.Writer

	// Stdout is the pipe carrying response envelopes from the worker.
	Stdout() io.Reader

	// Kill forcibly terminates the worker.
	Kill() error

	// Wait blocks until the worker has exited.
	Wait() error

	// PID identifies the worker process; in-process fakes return 0.
	PID() int
}

// Spawner starts worker processes. The subprocess spawner is the production
// implementation; tests substitute an in-process one.
type Spawner interface {
	Spawn(ctx context.Context) (Process, error)
}

// CommandSpawner launches worker subprocesses from a binary path.
type CommandSpawner struct {
	// Path is the worker binary, e.g. "runbox-worker".
	Path string

	// Args are passed to every spawned worker.
	Args []string

	// Env entries appended to the inherited environment, "KEY=VALUE" form.
	Env []string
}

var _ Spawner = (*CommandSpawner)(nil)

// Spawn starts one worker subprocess with piped stdio. Worker stderr passes
// through to the host's stderr for diagnostics.
func (s *CommandSpawner) Spawn(ctx context.Context) (Process, error) {
	cmd := exec.CommandContext(ctx, s.Path, s.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("pool: opening worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pool: opening worker stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pool: starting worker %s: %w", s.Path, err)
	}

	return &subprocess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

type subprocess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *subprocess) Stdin() io.Writer  { return p.stdin }
func (p *subprocess) Stdout() io.Reader { return p.stdout }
func (p *subprocess) PID() int          { return p.cmd.Process.Pid }

func (p *subprocess) Kill() error {
	p.stdin.Close()
	return p.cmd.Process.Kill()
}

func (p *subprocess) Wait() error {
	return p.cmd.Wait()
}
