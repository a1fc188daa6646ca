// Package runtime finds the container runtime the backup commands talk to.
package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/aelpxy/abackup/internal/command"
)

type RuntimeType string

const (
	RuntimeDocker RuntimeType = "docker"
	RuntimePodman RuntimeType = "podman"
)

const DockerSocket = "/var/run/docker.sock"

type RuntimeInfo struct {
	Type          RuntimeType
	SocketPath    string
	Version       string
	IsRootless    bool
	ServiceActive bool
}

// Detector probes the host. The zero value uses the real host.
type Detector struct {
	Executor command.Executor
	LookPath func(file string) (string, error)
	Stat     func(name string) (os.FileInfo, error)
	Getuid   func() int
	Getenv   func(key string) string
}

func (d Detector) lookPath(file string) error {
	lookPath := d.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	_, err := lookPath(file)
	return err
}

func (d Detector) exists(path string) bool {
	stat := d.Stat
	if stat == nil {
		stat = os.Stat
	}
	_, err := stat(path)
	return err == nil
}

func (d Detector) uid() int {
	if d.Getuid == nil {
		return os.Getuid()
	}
	return d.Getuid()
}

func (d Detector) getenv(key string) string {
	if d.Getenv == nil {
		return os.Getenv(key)
	}
	return d.Getenv(key)
}

// Detect picks the preferred runtime when one is named, otherwise follows
// DOCKER_HOST and then tries docker before podman. socketPath overrides the
// runtime's default socket.
func (d Detector) Detect(ctx context.Context, prefer, socketPath string) (*RuntimeInfo, error) {
	switch RuntimeType(strings.ToLower(prefer)) {
	case RuntimeDocker:
		return d.detectDocker(ctx, socketPath)
	case RuntimePodman:
		return d.detectPodman(ctx, socketPath)
	case "":
	default:
		return nil, fmt.Errorf("unknown runtime: %s (must be docker or podman)", prefer)
	}

	if dockerHost := d.getenv("DOCKER_HOST"); dockerHost != "" {
		if strings.Contains(dockerHost, "podman") {
			return d.detectPodman(ctx, socketPath)
		}
		return d.detectDocker(ctx, socketPath)
	}

	if info, err := d.detectDocker(ctx, socketPath); err == nil {
		return info, nil
	}

	if info, err := d.detectPodman(ctx, socketPath); err == nil {
		return info, nil
	}

	return nil, fmt.Errorf("no container runtime detected (tried docker, podman)")
}

func DetectRuntime(ctx context.Context, prefer, socketPath string) (*RuntimeInfo, error) {
	return Detector{}.Detect(ctx, prefer, socketPath)
}

func (d Detector) version(ctx context.Context, binary, field string) (string, error) {
	cmd := command.FromArgs(
		[]string{binary, "version", "--format", "{{." + field + ".Version}}"},
		command.WithExecutor(d.Executor),
		command.WithTextOutput(),
	)
	result, err := cmd.RunWithResult(ctx)
	if err != nil {
		return "", err
	}
	if !result.Success() {
		return "", fmt.Errorf("%s version exited with %d: %s", binary, result.ExitCode, strings.TrimSpace(result.StderrString()))
	}
	return strings.TrimSpace(result.StdoutString()), nil
}

func (d Detector) detectDocker(ctx context.Context, socketPath string) (*RuntimeInfo, error) {
	if err := d.lookPath("docker"); err != nil {
		return nil, fmt.Errorf("docker command not found")
	}

	if socketPath == "" {
		socketPath = DockerSocket
	}
	if !d.exists(socketPath) {
		return nil, fmt.Errorf("docker socket not found at %s", socketPath)
	}

	version, err := d.version(ctx, "docker", "Server")
	if err != nil {
		return nil, fmt.Errorf("failed to get docker version: %w", err)
	}

	return &RuntimeInfo{
		Type:          RuntimeDocker,
		SocketPath:    socketPath,
		Version:       version,
		ServiceActive: true,
	}, nil
}

func (d Detector) detectPodman(ctx context.Context, socketPath string) (*RuntimeInfo, error) {
	if err := d.lookPath("podman"); err != nil {
		return nil, fmt.Errorf("podman command not found")
	}

	isRootless := d.uid() != 0
	if socketPath == "" {
		socketPath = PodmanSocketPath(d.uid())
	}

	version, err := d.version(ctx, "podman", "Server")
	if err != nil {
		version, err = d.version(ctx, "podman", "Client")
		if err != nil {
			return nil, fmt.Errorf("failed to get podman version: %w", err)
		}
	}

	return &RuntimeInfo{
		Type:          RuntimePodman,
		SocketPath:    socketPath,
		Version:       version,
		IsRootless:    isRootless,
		ServiceActive: d.exists(socketPath),
	}, nil
}

func (r *RuntimeInfo) GetSocketURI() string {
	return fmt.Sprintf("unix://%s", r.SocketPath)
}

func (r *RuntimeInfo) GetRuntimeName() string {
	name := string(r.Type)
	if r.Type == RuntimePodman && r.IsRootless {
		name += " (rootless)"
	}
	return name
}

func (r *RuntimeInfo) EnsureSocketExists() error {
	if _, err := os.Stat(r.SocketPath); err != nil {
		if r.Type == RuntimePodman {
			return fmt.Errorf("podman socket not found at %s - run 'systemctl --user start podman.socket'", r.SocketPath)
		}
		return fmt.Errorf("runtime socket not found at %s", r.SocketPath)
	}
	return nil
}

func PodmanSocketPath(uid int) string {
	if uid != 0 {
		return fmt.Sprintf("/run/user/%d/podman/podman.sock", uid)
	}
	return "/run/podman/podman.sock"
}
