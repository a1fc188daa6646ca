package driver

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aelpxy/abackup/internal/backupfile"
	"github.com/aelpxy/abackup/internal/command"
	"github.com/kballard/go-shellquote"
	"github.com/lucsky/cuid"
)

const archiveExtension = "tar"

// DirectoryCommand archives a container directory with tar in a helper
// container that shares the target's volumes, staging the archive in a host
// temp directory bind-mounted at MountPoint.
type DirectoryCommand struct {
	b         *Builder
	op        Operation
	directory string
	target    Target
	file      *backupfile.BackupFile
}

func (b *Builder) DirectoryBackup(t Target, directory string) (*DirectoryCommand, error) {
	return b.directory(OpBackup, t, directory)
}

func (b *Builder) DirectoryRestore(t Target, directory string) (*DirectoryCommand, error) {
	return b.directory(OpRestore, t, directory)
}

func (b *Builder) directory(op Operation, t Target, directory string) (*DirectoryCommand, error) {
	identifier := path.Base(path.Clean(directory))
	if directory == "" || identifier == "/" || identifier == "." {
		return nil, fmt.Errorf("invalid directory: %q", directory)
	}
	if t.Container == "" {
		return nil, fmt.Errorf("container name not set")
	}

	return &DirectoryCommand{
		b:         b,
		op:        op,
		directory: path.Clean(directory),
		target:    t,
		file:      b.file(t, identifier, archiveExtension, ""),
	}, nil
}

func (c *DirectoryCommand) Operation() Operation {
	return c.op
}

func (c *DirectoryCommand) File() *backupfile.BackupFile {
	return c.file
}

func (c *DirectoryCommand) Directory() string {
	return c.directory
}

func (c *DirectoryCommand) String() string {
	return "tar " + c.directory
}

func (c *DirectoryCommand) Run(ctx context.Context) bool {
	result, err := c.RunWithResult(ctx)
	if err != nil {
		c.b.log().Errorw("directory command failed", "command", c.String(), "error", err)
		return false
	}
	return result.Success()
}

// helper returns the run-mode spec with tmp mounted at MountPoint.
func (c *DirectoryCommand) helper(tmp string) command.ContainerSpec {
	spec := command.ContainerSpec{
		Container:   c.target.Container,
		Mode:        command.ModeRun,
		Options:     c.target.DockerOptions,
		HelperImage: c.b.HelperImage,
	}
	return spec.WithFlags("--rm").WithOptions("-v", tmp+":"+MountPoint)
}

// makeTempDir creates a fresh staging directory unique to this invocation.
func (c *DirectoryCommand) makeTempDir() (string, error) {
	tmp := filepath.Join(c.b.tempRoot(), cuid.New())
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	return tmp, nil
}

func (c *DirectoryCommand) removeTempDir(tmp string) {
	if err := os.RemoveAll(tmp); err != nil {
		c.b.log().Warnw("failed to remove temp directory", "path", tmp, "error", err)
	}
}

func (c *DirectoryCommand) RunWithResult(ctx context.Context) (*command.Result, error) {
	var result *command.Result
	var err error
	if c.op == OpBackup {
		result, err = c.backup(ctx)
	} else {
		result, err = c.restore(ctx)
	}
	if result != nil {
		result.Description = c.String()
	}
	return result, err
}

func (c *DirectoryCommand) backup(ctx context.Context) (*command.Result, error) {
	name := c.file.Name()
	inContainer := path.Join(MountPoint, name)

	tmp, err := c.makeTempDir()
	if err != nil {
		return failedResult(c.String(), err)
	}
	defer c.removeTempDir(tmp)

	spec := c.helper(tmp)
	opts := c.b.commandOptions()

	// the helper's tar does the compression; busybox has no long gzip options
	flags := "-cf"
	if c.file.Compressed() {
		flags = "-czf"
	}
	archive, err := spec.Command(shellquote.Join("tar", flags, inContainer, c.directory), opts...)
	if err != nil {
		return failedResult(c.String(), err)
	}

	// the archive is written by the container user, so it is removed from
	// inside the container before the host directory goes away
	cleanup, err := spec.Command(shellquote.Join("rm", "-f", inContainer), opts...)
	if err != nil {
		return failedResult(c.String(), err)
	}
	defer c.b.runDeferred(ctx, cleanup)

	steps := command.NewComposite(
		archive,
		c.b.hostCommand("cp", filepath.Join(tmp, name), c.file.Path()),
	)
	return steps.RunWithResult(ctx)
}

func (c *DirectoryCommand) restore(ctx context.Context) (*command.Result, error) {
	source, err := c.file.Resolve()
	if err != nil {
		return failedResult(c.String(), err)
	}
	name := filepath.Base(source)
	inContainer := path.Join(MountPoint, name)

	tmp, err := c.makeTempDir()
	if err != nil {
		return failedResult(c.String(), err)
	}
	defer c.removeTempDir(tmp)

	staged := filepath.Join(tmp, name)
	flags := "-xf"
	if backupfile.IsCompressed(source) {
		flags = "-xzf"
	}
	extract, err := c.helper(tmp).Command(shellquote.Join("tar", flags, inContainer, "-C", "/"), c.b.commandOptions()...)
	if err != nil {
		return failedResult(c.String(), err)
	}

	steps := command.NewComposite(
		c.b.hostCommand("cp", source, staged),
		c.b.hostCommand("chmod", "o+r", staged),
		extract,
	)
	return steps.RunWithResult(ctx)
}
