// Package docker talks to the runtime API for preflight checks. Backups
// themselves go through the docker CLI.
package docker

import (
	"context"
	"fmt"

	"github.com/aelpxy/abackup/internal/runtime"
	"github.com/docker/docker/client"
)

type Client struct {
	cli         *client.Client
	runtimeInfo *runtime.RuntimeInfo
}

func NewClient(ctx context.Context, prefer, socketPath string) (*Client, error) {
	runtimeInfo, err := runtime.DetectRuntime(ctx, prefer, socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect container runtime: %w\nplease install docker or podman", err)
	}

	return NewClientWithRuntime(runtimeInfo)
}

func NewClientWithRuntime(runtimeInfo *runtime.RuntimeInfo) (*Client, error) {
	if err := runtimeInfo.EnsureSocketExists(); err != nil {
		return nil, err
	}

	c, err := newClient(client.WithHost(runtimeInfo.GetSocketURI()), client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	c.runtimeInfo = runtimeInfo
	return c, nil
}

func newClient(opts ...client.Opt) (*Client, error) {
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create container runtime client: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) GetClient() *client.Client {
	return c.cli
}

func (c *Client) GetRuntimeInfo() *runtime.RuntimeInfo {
	return c.runtimeInfo
}
