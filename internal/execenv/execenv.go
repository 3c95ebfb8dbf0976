// Package execenv implements the ExecutionEnvironment collaborator the
// agent manager (C3) consumes to actually run an agent family's CLI
// binary: start it, write to its stdin, read its stdout/stderr, and stop
// it. The default implementation runs a bare OS subprocess; a
// Docker-backed alternative lives in internal/sandbox.
package execenv

import (
	"context"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/kandev/converse/internal/common/logger"
	"go.uber.org/zap"
)

// Spec describes how to launch one agent process.
type Spec struct {
	Binary string
	Args   []string
	Env    []string
	Dir    string
}

// Process is a running agent subprocess: its stdin, and stdout/stderr to
// read its stream-json and log chatter from.
type Process interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Stderr() io.Reader

	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)

	// Stop sends SIGTERM, waits up to gracePeriod for exit, then escalates
	// to SIGKILL. Grounded on agentctl/launcher.Launcher.Stop.
	Stop(ctx context.Context, gracePeriod time.Duration) error

	// Alive reports, without blocking, whether the process has not yet
	// exited. Used by the agent manager's periodic cleanup sweep to find
	// handles whose process died without a synthesized turn.completed.
	Alive() bool
}

// ExecutionEnvironment launches agent processes.
type ExecutionEnvironment interface {
	Start(ctx context.Context, spec Spec) (Process, error)
}

// OSProcessEnv is the default ExecutionEnvironment, running the agent
// binary as a direct child process. Grounded on
// internal/agent/agentctl/launcher.Launcher: Pdeathsig+Setpgid,
// StdoutPipe/StderrPipe, and the SIGTERM-then-SIGKILL stop sequence.
type OSProcessEnv struct {
	logger *logger.Logger
}

// NewOSProcessEnv constructs the default subprocess-based environment.
func NewOSProcessEnv(log *logger.Logger) *OSProcessEnv {
	return &OSProcessEnv{logger: log.WithFields(zap.String("component", "execenv"))}
}

func (e *OSProcessEnv) Start(ctx context.Context, spec Spec) (Process, error) {
	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
		Setpgid:   true,
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
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

	p := &osProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		exited: make(chan struct{}),
		logger: e.logger,
	}
	go p.monitorExit()

	return p, nil
}

type osProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	exited   chan struct{}
	exitCode int
	exitErr  error
	stopping bool

	logger *logger.Logger
}

func (p *osProcess) Stdin() io.Writer  { return p.stdin }
func (p *osProcess) Stdout() io.Reader { return p.stdout }
func (p *osProcess) Stderr() io.Reader { return p.stderr }

func (p *osProcess) monitorExit() {
	err := p.cmd.Wait()
	p.exitErr = err
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	if err != nil && !p.stopping {
		p.logger.Warn("agent process exited unexpectedly", zap.Error(err))
	}
	close(p.exited)
}

func (p *osProcess) Wait() (int, error) {
	<-p.exited
	return p.exitCode, p.exitErr
}

func (p *osProcess) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Stop sends SIGTERM to the process group, waits up to gracePeriod for a
// clean exit, then escalates to SIGKILL. Mirrors
// agentctl/launcher.Launcher.Stop's channel-select escalation.
func (p *osProcess) Stop(ctx context.Context, gracePeriod time.Duration) error {
	p.stopping = true

	pid := p.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		return err
	}

	select {
	case <-p.exited:
		return nil
	case <-time.After(gracePeriod):
	case <-ctx.Done():
	}

	select {
	case <-p.exited:
		return nil
	default:
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		return err
	}

	select {
	case <-p.exited:
	case <-time.After(2 * time.Second):
	}
	return nil
}
