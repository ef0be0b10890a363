package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/go-errors/errors"
)

const (
	postgresPort = nat.Port("5432/tcp")
	readyLine    = "database system is ready to accept connections"
)

var cli *client.Client

func Init() (*client.Client, error) {
	if cli != nil {
		return cli, nil
	}

	// Use default Docker client which auto-discovers socket on macOS and Linux
	c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	cli = c
	return cli, nil
}

func CheckDocker(ctx context.Context) error {
	if _, err := Init(); err != nil {
		return err
	}
	if _, err := cli.Ping(ctx); err != nil {
		return fmt.Errorf("Docker daemon is not accessible: %w", err)
	}
	return nil
}

func PullImageIfNotCached(ctx context.Context, imageName string) error {
	// Try to pull image - Docker will use cache if it exists
	out, err := cli.ImagePull(ctx, imageName, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull docker image: %w", err)
	}
	defer out.Close()

	// Drain output
	_, _ = io.Copy(io.Discard, out)

	return nil
}

// Postgres is a throwaway PostgreSQL server published on a random loopback port.
type Postgres struct {
	ID  string
	URL string
}

// PostgresOptions describes the container StartPostgres creates.
type PostgresOptions struct {
	Image    string
	User     string
	Password string
	Database string
}

// StartPostgres runs a PostgreSQL container and blocks until it accepts
// connections. Callers must Stop the returned container.
func StartPostgres(ctx context.Context, opts PostgresOptions) (*Postgres, error) {
	if err := CheckDocker(ctx); err != nil {
		return nil, err
	}
	if err := PullImageIfNotCached(ctx, opts.Image); err != nil {
		return nil, err
	}

	cfg := &container.Config{
		Image: opts.Image,
		Env: []string{
			"POSTGRES_USER=" + opts.User,
			"POSTGRES_PASSWORD=" + opts.Password,
			"POSTGRES_DB=" + opts.Database,
		},
		ExposedPorts: nat.PortSet{postgresPort: struct{}{}},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			postgresPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "0"}},
		},
	}

	resp, err := cli.ContainerCreate(ctx, cfg, hostConfig, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	pg := &Postgres{ID: resp.ID}

	if err := cli.ContainerStart(ctx, pg.ID, container.StartOptions{}); err != nil {
		_ = pg.Stop(context.Background())
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	info, err := cli.ContainerInspect(ctx, pg.ID)
	if err != nil {
		_ = pg.Stop(context.Background())
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	hostPort, err := publishedPort(info.NetworkSettings.Ports, postgresPort)
	if err != nil {
		_ = pg.Stop(context.Background())
		return nil, err
	}

	if err := waitForReady(ctx, pg.ID); err != nil {
		_ = pg.Stop(context.Background())
		return nil, err
	}

	pg.URL = (&url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(opts.User, opts.Password),
		Host:     "127.0.0.1:" + hostPort,
		Path:     "/" + opts.Database,
		RawQuery: "sslmode=disable",
	}).String()
	return pg, nil
}

// Stop removes the container and its anonymous volumes.
func (p *Postgres) Stop(ctx context.Context) error {
	err := cli.ContainerRemove(ctx, p.ID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func publishedPort(ports nat.PortMap, port nat.Port) (string, error) {
	for _, binding := range ports[port] {
		if binding.HostPort != "" && binding.HostPort != "0" {
			return binding.HostPort, nil
		}
	}
	return "", errors.Errorf("port %s is not published", port)
}

// waitForReady polls the container logs. The official image restarts the server
// once after initdb, so the ready line has to show up twice.
func waitForReady(ctx context.Context, containerID string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		stdout := NewContainerOutput()
		stderr := NewContainerOutput()
		if err := readLogs(ctx, containerID, stdout, stderr); err != nil {
			return err
		}
		if readyCount(stdout, stderr) >= 2 {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Errorf("postgres container not ready: %v\n%s", ctx.Err(), stderr.String())
		case <-ticker.C:
		}
	}
}

func readLogs(ctx context.Context, containerID string, stdout, stderr *ContainerOutput) error {
	logs, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil {
		return fmt.Errorf("failed to copy logs: %w", err)
	}
	return nil
}

func readyCount(outputs ...*ContainerOutput) int {
	n := 0
	for _, o := range outputs {
		n += bytes.Count(o.Bytes(), []byte(readyLine))
	}
	return n
}

type ContainerOutput struct {
	data []byte
}

func NewContainerOutput() *ContainerOutput {
	return &ContainerOutput{}
}

func (o *ContainerOutput) Write(p []byte) (int, error) {
	o.data = append(o.data, p...)
	return len(p), nil
}

func (o *ContainerOutput) Bytes() []byte {
	return o.data
}

func (o *ContainerOutput) String() string {
	return string(o.data)
}
