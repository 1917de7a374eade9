package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Process is a spawned service.
type Process interface {
	PID() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err is the exit error, valid after Done is closed.
	Err() error
	Signal(sig os.Signal) error
	Kill() error
}

// Launcher spawns a resolved program for a service.
type Launcher interface {
	Launch(program string, spec ServiceSpec) (Process, error)
}

// Resolver picks the program to run from a list of candidate names.
type Resolver interface {
	Resolve(ctx context.Context, candidates, versionArgs []string) (string, error)
}

// ExecResolver returns the first candidate found on PATH whose version probe
// exits successfully.
type ExecResolver struct{}

func (ExecResolver) Resolve(ctx context.Context, candidates, versionArgs []string) (string, error) {
	var tried []string
	for _, name := range candidates {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		tried = append(tried, name)

		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		probe := exec.CommandContext(ctx, path, versionArgs...)
		probe.Stdout = io.Discard
		probe.Stderr = io.Discard
		if err := probe.Run(); err != nil {
			continue
		}
		return path, nil
	}
	return "", fmt.Errorf("%w (tried %s)", ErrNoCandidate, strings.Join(tried, ", "))
}

// ExecLauncher starts programs with os/exec. Output streams are inherited.
type ExecLauncher struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (l ExecLauncher) Launch(program string, spec ServiceSpec) (Process, error) {
	cmd := exec.Command(program, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Stdout = l.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) PID() int              { return p.cmd.Process.Pid }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *execProcess) Signal(sig os.Signal) error {
	err := p.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
