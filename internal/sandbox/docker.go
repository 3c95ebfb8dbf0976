// Package sandbox provides an optional Docker-backed ExecutionEnvironment:
// instead of spawning an agent CLI as a bare subprocess, it runs it inside
// a throwaway container and attaches to its stdio. Selected for every
// member at startup by SandboxConfig.Enabled; Member.Sandboxed is not
// consulted. Adapted from the teacher's
// internal/agent/docker/client.go (container lifecycle) and
// internal/agent/lifecycle/manager.go (attach-for-stdio pattern), trimmed
// to the calls the agent manager actually needs.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/kandev/converse/internal/common/logger"
	"github.com/kandev/converse/internal/config"
	"go.uber.org/zap"
)

// ContainerConfig holds configuration for creating a container.
type ContainerConfig struct {
	Name        string
	Image       string
	Cmd         []string
	Env         []string
	WorkingDir  string
	Mounts      []MountConfig
	NetworkMode string
	Memory      int64
	CPUQuota    int64
	Labels      map[string]string
	AutoRemove  bool
}

// MountConfig holds mount configuration.
type MountConfig struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerInfo holds information about a running container.
type ContainerInfo struct {
	ID         string
	Name       string
	Image      string
	State      string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
}

// DockerClient wraps the Docker SDK for the sandbox execution environment.
type DockerClient struct {
	cli    *client.Client
	logger *logger.Logger
	config config.SandboxConfig
}

// NewDockerClient creates a Docker client from the sandbox config.
func NewDockerClient(cfg config.SandboxConfig, log *logger.Logger) (*DockerClient, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.DockerHost != "" {
		opts = append(opts, client.WithHost(cfg.DockerHost))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	log.Info("docker client created", zap.String("host", cfg.DockerHost))

	return &DockerClient{cli: cli, logger: log, config: cfg}, nil
}

func (c *DockerClient) Close() error { return c.cli.Close() }

// Ping checks if Docker is available.
func (c *DockerClient) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

// AttachResult contains the streams for container I/O.
type AttachResult struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	Conn   net.Conn
}

// CreateAndAttach creates an interactive (stdin-attached, no-TTY) container
// and attaches to its combined stdout/stderr stream, returning both the
// container ID and the attach result in one call since the agent manager
// always needs both.
func (c *DockerClient) CreateAndAttach(ctx context.Context, cfg ContainerConfig) (string, *AttachResult, error) {
	mounts := make([]mount.Mount, 0, len(cfg.Mounts))
	for _, m := range cfg.Mounts {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly})
	}

	containerCfg := &container.Config{
		Image:        cfg.Image,
		Cmd:          cfg.Cmd,
		Env:          cfg.Env,
		WorkingDir:   cfg.WorkingDir,
		Labels:       cfg.Labels,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}
	hostCfg := &container.HostConfig{
		Mounts:      mounts,
		NetworkMode: container.NetworkMode(cfg.NetworkMode),
		AutoRemove:  cfg.AutoRemove,
		Resources:   container.Resources{Memory: cfg.Memory, CPUQuota: cfg.CPUQuota},
	}

	resp, err := c.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, cfg.Name)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create container %s: %w", cfg.Name, err)
	}

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = c.RemoveContainer(ctx, resp.ID, true)
		return "", nil, fmt.Errorf("failed to start container %s: %w", resp.ID, err)
	}

	attachResp, err := c.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{Stream: true, Stdin: true, Stdout: true, Stderr: true})
	if err != nil {
		_ = c.RemoveContainer(ctx, resp.ID, true)
		return "", nil, fmt.Errorf("failed to attach to container %s: %w", resp.ID, err)
	}

	stdinReader, stdinWriter := io.Pipe()
	go func() { _, _ = io.Copy(attachResp.Conn, stdinReader) }()

	return resp.ID, &AttachResult{Stdin: stdinWriter, Stdout: attachResp.Reader, Conn: attachResp.Conn}, nil
}

// StopContainer stops a container, falling back to SIGKILL after timeout.
func (c *DockerClient) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := c.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", containerID, err)
	}
	return nil
}

// RemoveContainer removes a container.
func (c *DockerClient) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	if err := c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}
	return nil
}

// GetContainerInfo inspects a container for its exit status.
func (c *DockerClient) GetContainerInfo(ctx context.Context, containerID string) (*ContainerInfo, error) {
	inspect, err := c.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}
	return &ContainerInfo{
		ID:       inspect.ID,
		Name:     inspect.Name,
		Image:    inspect.Config.Image,
		State:    inspect.State.Status,
		Status:   inspect.State.Status,
		ExitCode: inspect.State.ExitCode,
	}, nil
}

// ListContainers lists containers matching the given labels. Nothing in
// the engine calls it; exited sandbox containers are removed by monitorExit.
func (c *DockerClient) ListContainers(ctx context.Context, labels map[string]string) ([]ContainerInfo, error) {
	filterArgs := filters.NewArgs()
	for k, v := range labels {
		filterArgs.Add("label", fmt.Sprintf("%s=%s", k, v))
	}

	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: filterArgs})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	infos := make([]ContainerInfo, 0, len(containers))
	for _, ctr := range containers {
		name := ""
		if len(ctr.Names) > 0 {
			name = ctr.Names[0]
		}
		infos = append(infos, ContainerInfo{ID: ctr.ID, Name: name, Image: ctr.Image, State: ctr.State, Status: ctr.Status})
	}
	return infos, nil
}
