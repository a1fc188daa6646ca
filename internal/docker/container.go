package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
)

const ContainerOpTimeout = 30 * time.Second

const StatusNotFound = "not found"

// ContainerState is what a preflight check needs to know about a target
// container.
type ContainerState struct {
	Name    string
	Status  string
	Running bool
	Health  string
	Image   string
}

// Ready reports whether exec-mode commands can run in the container.
func (s ContainerState) Ready() bool {
	return s.Running && (s.Health == "" || s.Health == "healthy")
}

func (c *Client) GetContainerState(ctx context.Context, name string) (ContainerState, error) {
	ctx, cancel := context.WithTimeout(ctx, ContainerOpTimeout)
	defer cancel()

	state := ContainerState{Name: name}
	inspect, err := c.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			state.Status = StatusNotFound
			return state, nil
		}
		return state, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	if inspect.Config != nil {
		state.Image = inspect.Config.Image
	}
	if inspect.ContainerJSONBase != nil && inspect.State != nil {
		state.Status = inspect.State.Status
		state.Running = inspect.State.Running
		if inspect.State.Health != nil {
			state.Health = inspect.State.Health.Status
		}
	}
	return state, nil
}

func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ContainerOpTimeout)
	defer cancel()

	version, err := c.cli.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get server version: %w", err)
	}
	return version.Version, nil
}
