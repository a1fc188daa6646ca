// Package driver builds the commands that back up and restore one database or
// one directory of a container.
package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aelpxy/abackup/internal/backupfile"
	"github.com/aelpxy/abackup/internal/command"
	"github.com/aelpxy/abackup/pkg/models"
	"go.uber.org/zap"
)

var (
	ErrAmbiguousIO   = errors.New("driver command needs exactly one of an input file or an output file")
	ErrUnknownDriver = errors.New("unknown database driver")
)

const (
	TempDirName = ".abackup-tmp"
	MountPoint  = "/abackup"
)

type Operation string

const (
	OpBackup  Operation = "backup"
	OpRestore Operation = "restore"
)

// Step is a driver command together with the artifact it produces or reads.
type Step interface {
	command.Runnable
	Operation() Operation
	File() *backupfile.BackupFile
}

// Target is the container and backup directory a step works against.
type Target struct {
	Container     string
	Dir           string
	DockerOptions []string
	Naming        models.NamingConfig
	// FileName pins the artifact a restore reads from.
	FileName string
}

// Builder carries the defaults shared by every driver command.
type Builder struct {
	Executor    command.Executor
	Logger      *zap.SugaredLogger
	HelperImage string
	TempRoot    string
	Now         func() time.Time
}

func (b *Builder) log() *zap.SugaredLogger {
	if b.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return b.Logger
}

func (b *Builder) executor() command.Executor {
	if b.Executor == nil {
		return command.OSExecutor{}
	}
	return b.Executor
}

func (b *Builder) tempRoot() string {
	if b.TempRoot != "" {
		return b.TempRoot
	}
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(os.TempDir(), TempDirName)
	}
	return filepath.Join(cwd, TempDirName)
}

func (b *Builder) commandOptions(opts ...command.Option) []command.Option {
	base := []command.Option{command.WithExecutor(b.executor()), command.WithLogger(b.log())}
	return append(base, opts...)
}

// file describes the artifact for identifier. An explicit prefix wins; the
// container-wide naming prefix is otherwise prepended to the identifier.
func (b *Builder) file(t Target, identifier, extension, prefix string) *backupfile.BackupFile {
	settings := backupfile.Settings{
		Single:         t.Naming.Single,
		ForceTimestamp: t.Naming.ForceTimestamp,
		Compress:       t.Naming.Compressed(),
	}
	switch {
	case prefix != "":
		settings.Prefix = prefix
	case t.Naming.Prefix != "":
		settings.Prefix = t.Naming.Prefix + "_" + identifier
	}

	opts := []backupfile.Option{backupfile.WithClock(b.Now)}
	if t.FileName != "" {
		opts = append(opts, backupfile.WithFileName(t.FileName))
	}
	return backupfile.New(identifier, t.Dir, extension, settings, opts...)
}

// NewToolCommand wraps a dump or restore tool running inside the container.
// Exactly one of inputPath and outputPath must be set.
func (b *Builder) NewToolCommand(spec command.ContainerSpec, inner, inputPath, outputPath, description string) (*command.Command, error) {
	if (inputPath == "") == (outputPath == "") {
		return nil, ErrAmbiguousIO
	}

	opts := b.commandOptions(command.WithDescription(description))
	if inputPath != "" {
		opts = append(opts, command.WithInputFile(inputPath))
	} else {
		opts = append(opts, command.WithOutputFile(outputPath))
	}

	return spec.WithFlags("-i").Command(inner, opts...)
}

func (b *Builder) hostCommand(args ...string) *command.Command {
	return command.FromArgs(args, b.commandOptions()...)
}

// runDeferred runs a cleanup command regardless of how the step ended.
func (b *Builder) runDeferred(ctx context.Context, cmd command.Runnable) {
	result, err := cmd.RunWithResult(context.WithoutCancel(ctx))
	if err != nil {
		b.log().Warnw("cleanup could not be run", "command", cmd.String(), "error", err)
		return
	}
	if !result.Success() {
		b.log().Warnw("cleanup failed", "command", cmd.String(), "exit_code", result.ExitCode)
	}
}

func failedResult(description string, err error) (*command.Result, error) {
	return &command.Result{ExitCode: -1, Description: description}, fmt.Errorf("%s: %w", description, err)
}
