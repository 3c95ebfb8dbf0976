package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/kandev/converse/internal/common/logger"
	"github.com/kandev/converse/internal/config"
	"github.com/kandev/converse/internal/execenv"
)

// Env is the Docker-backed execenv.ExecutionEnvironment. Construct one per
// process and reuse it across all members (main.go selects it for the
// whole team when SandboxConfig.Enabled is set; Member.Sandboxed is not
// consulted); it holds the single long-lived Docker client connection.
type Env struct {
	docker *DockerClient
	cfg    config.SandboxConfig
	logger *logger.Logger
}

// New builds a sandbox environment. Returns an error if Docker is configured
// but unreachable, so the caller can fail fast at startup rather than on the
// first member launch.
func New(ctx context.Context, cfg config.SandboxConfig, log *logger.Logger) (*Env, error) {
	dc, err := NewDockerClient(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := dc.Ping(ctx); err != nil {
		return nil, fmt.Errorf("sandbox: docker unreachable: %w", err)
	}
	return &Env{docker: dc, cfg: cfg, logger: log}, nil
}

func (e *Env) Close() error { return e.docker.Close() }

// Start implements execenv.ExecutionEnvironment by running spec.Binary as
// the container's entrypoint command inside a throwaway, auto-removed
// container built from the configured default image.
func (e *Env) Start(ctx context.Context, spec execenv.Spec) (execenv.Process, error) {
	name := fmt.Sprintf("converse-agent-%s", uuid.NewString())

	cmd := append([]string{spec.Binary}, spec.Args...)

	containerID, attach, err := e.docker.CreateAndAttach(ctx, ContainerConfig{
		Name:        name,
		Image:       e.cfg.DefaultImage,
		Cmd:         cmd,
		Env:         spec.Env,
		WorkingDir:  spec.Dir,
		NetworkMode: "bridge",
		Labels:      map[string]string{"converse.sandbox": "true"},
		AutoRemove:  false,
	})
	if err != nil {
		return nil, err
	}

	p := &containerProcess{
		docker:      e.docker,
		containerID: containerID,
		stdin:       attach.Stdin,
		stdout:      attach.Stdout,
		exited:      make(chan struct{}),
		logger:      e.logger,
	}
	go p.monitorExit(ctx)

	return p, nil
}

type containerProcess struct {
	docker      *DockerClient
	containerID string
	stdin       io.WriteCloser
	stdout      io.Reader

	exited   chan struct{}
	exitCode int
	exitErr  error
	stopping bool

	logger *logger.Logger
}

func (p *containerProcess) Stdin() io.Writer  { return p.stdin }
func (p *containerProcess) Stdout() io.Reader { return p.stdout }

// Stderr is not separately exposed: ContainerAttach multiplexes stdout and
// stderr onto the same stream for a non-TTY attach, same as the teacher's
// io.Pipe() bridging in internal/agent/lifecycle/manager.go.
func (p *containerProcess) Stderr() io.Reader { return emptyReader{} }

func (p *containerProcess) monitorExit(ctx context.Context) {
	info, err := p.docker.GetContainerInfo(ctx, p.containerID)
	for err == nil && (info.State == "running" || info.State == "created") {
		time.Sleep(500 * time.Millisecond)
		info, err = p.docker.GetContainerInfo(ctx, p.containerID)
	}
	if err != nil {
		p.exitErr = err
	} else {
		p.exitCode = info.ExitCode
	}
	_ = p.docker.RemoveContainer(context.Background(), p.containerID, true)
	close(p.exited)
}

func (p *containerProcess) Wait() (int, error) {
	<-p.exited
	return p.exitCode, p.exitErr
}

func (p *containerProcess) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

func (p *containerProcess) Stop(ctx context.Context, gracePeriod time.Duration) error {
	p.stopping = true
	if err := p.docker.StopContainer(ctx, p.containerID, gracePeriod); err != nil {
		return err
	}
	select {
	case <-p.exited:
	case <-time.After(gracePeriod + 2*time.Second):
	}
	return nil
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }
