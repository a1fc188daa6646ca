// Package backup runs backups and restores for the containers of a project:
// pre-commands, one driver command per database and directory, retention,
// then post-commands, reporting each container's outcome.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aelpxy/abackup/internal/backupfile"
	"github.com/aelpxy/abackup/internal/command"
	"github.com/aelpxy/abackup/internal/driver"
	"github.com/aelpxy/abackup/internal/notify"
	"github.com/aelpxy/abackup/internal/project"
	"github.com/aelpxy/abackup/pkg/models"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrFileWithoutTarget = errors.New("an explicit backup file needs a single restore target")

// HealthReporter receives the start, success and failure of a container's
// backup.
type HealthReporter interface {
	Start(ctx context.Context, container string)
	Success(ctx context.Context, container string)
	Failure(ctx context.Context, container, message string)
}

type Permissions struct {
	Group    string
	DirMode  os.FileMode
	FileMode os.FileMode
}

type Options struct {
	Root        string
	Project     *models.ProjectConfig
	Builder     *driver.Builder
	Permissions Permissions
	Notifier    notify.Notifier
	Mode        notify.Mode
	// Health is only consulted for containers with a healthchecks table.
	Health  HealthReporter
	History *History
	// Locks, when set, serializes runs per container across processes.
	Locks       *LockManager
	LockTimeout time.Duration
	Logger      *zap.SugaredLogger
}

type Manager struct {
	root        string
	project     *models.ProjectConfig
	builder     *driver.Builder
	permissions Permissions
	notifier    notify.Notifier
	mode        notify.Mode
	health      HealthReporter
	history     *History
	locks       *LockManager
	lockTimeout time.Duration
	log         *zap.SugaredLogger
}

type RestoreOptions struct {
	// Target limits the restore to one database name or directory.
	Target string
	// FileName pins the artifact to restore from instead of the youngest.
	FileName string
}

// ContainerReport is the outcome of one container's pass. Successful and
// Failed hold the descriptions of the commands that ran.
type ContainerReport struct {
	Container  string
	Operation  driver.Operation
	Skipped    bool
	Successful []string
	Failed     []string
	Artifacts  []string
	Removed    []string
	Started    time.Time
	Finished   time.Time
}

func (r ContainerReport) OK() bool {
	return !r.Skipped && len(r.Failed) == 0
}

// SkipReason names what stopped a skipped container: the failed pre-command
// or the held lock.
func (r ContainerReport) SkipReason() string {
	if !r.Skipped {
		return ""
	}
	if len(r.Failed) > 0 {
		return r.Failed[0]
	}
	return "skipped"
}

// Succeeded is true when every container finished without failures.
func Succeeded(reports []ContainerReport) bool {
	for _, r := range reports {
		if !r.OK() {
			return false
		}
	}
	return true
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("backup root not set")
	}
	if opts.Project == nil {
		return nil, fmt.Errorf("project not set")
	}
	if opts.Builder == nil {
		opts.Builder = &driver.Builder{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Builder.Logger == nil {
		opts.Builder.Logger = opts.Logger
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{Log: opts.Logger}
	}
	if opts.Mode == "" {
		opts.Mode = notify.ModeAuto
	}
	if opts.Permissions.DirMode == 0 {
		opts.Permissions.DirMode = 0750
	}
	if opts.Permissions.FileMode == 0 {
		opts.Permissions.FileMode = 0640
	}

	return &Manager{
		root:        opts.Root,
		project:     opts.Project,
		builder:     opts.Builder,
		permissions: opts.Permissions,
		notifier:    opts.Notifier,
		mode:        opts.Mode,
		health:      opts.Health,
		history:     opts.History,
		locks:       opts.Locks,
		lockTimeout: opts.LockTimeout,
		log:         opts.Logger.With("project", opts.Project.Name),
	}, nil
}

// ContainerDir is where a container's artifacts live.
func (m *Manager) ContainerDir(container string) string {
	return filepath.Join(m.root, m.project.Name, container)
}

func (m *Manager) now() time.Time {
	if m.builder.Now != nil {
		return m.builder.Now()
	}
	return time.Now()
}

// EnsurePath creates the project and container directories, hands them to
// the configured group and applies the directory mode.
func (m *Manager) EnsurePath(container string) (string, error) {
	dir := m.ContainerDir(container)
	if err := os.MkdirAll(dir, m.permissions.DirMode); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	gid := -1
	if m.permissions.Group != "" {
		group, err := user.LookupGroup(m.permissions.Group)
		if err != nil {
			return "", fmt.Errorf("failed to look up group %s: %w", m.permissions.Group, err)
		}
		gid, err = strconv.Atoi(group.Gid)
		if err != nil {
			return "", fmt.Errorf("invalid gid for group %s: %w", m.permissions.Group, err)
		}
	}

	for _, path := range []string{filepath.Dir(dir), dir} {
		if gid >= 0 {
			if err := os.Chown(path, -1, gid); err != nil {
				return "", fmt.Errorf("failed to change group of %s: %w", path, err)
			}
		}
		if err := os.Chmod(path, m.permissions.DirMode); err != nil {
			return "", fmt.Errorf("failed to change mode of %s: %w", path, err)
		}
	}

	return dir, nil
}

func (m *Manager) Backup(ctx context.Context, containers []models.Container) ([]ContainerReport, error) {
	var errs error
	reports := make([]ContainerReport, 0, len(containers))
	for _, c := range containers {
		report, err := m.backupContainer(ctx, c)
		report.Finished = m.now()
		errs = multierr.Append(errs, err)
		reports = append(reports, report)
		m.finish(ctx, c, report)
	}
	return reports, errs
}

func (m *Manager) Restore(ctx context.Context, containers []models.Container, opts RestoreOptions) ([]ContainerReport, error) {
	if opts.FileName != "" && opts.Target == "" {
		return nil, ErrFileWithoutTarget
	}

	var errs error
	reports := make([]ContainerReport, 0, len(containers))
	for _, c := range containers {
		report, err := m.restoreContainer(ctx, c, opts)
		report.Finished = m.now()
		errs = multierr.Append(errs, err)
		reports = append(reports, report)
		m.finish(ctx, c, report)
	}
	return reports, errs
}

func (m *Manager) backupContainer(ctx context.Context, c models.Container) (ContainerReport, error) {
	log := m.log.With("container", c.Name)
	report := ContainerReport{Container: c.Name, Operation: driver.OpBackup, Started: m.now()}

	unlock, err := m.lock(c.Name)
	if err != nil {
		report.Skipped = true
		report.Failed = append(report.Failed, "lock "+c.Name)
		return report, fmt.Errorf("container %s: %w", c.Name, err)
	}
	defer unlock()

	if m.health != nil && c.Backup.Healthchecks != nil {
		m.health.Start(ctx, c.Name)
	}

	dir, err := m.EnsurePath(c.Name)
	if err != nil {
		report.Failed = append(report.Failed, "prepare "+m.ContainerDir(c.Name))
		return report, fmt.Errorf("container %s: %w", c.Name, err)
	}

	log.Infow("starting backup", "dir", dir)
	if !m.runPre(ctx, c, c.Backup.PreCommands, c.Backup.DockerOptions, &report) {
		log.Warnw("pre-command failed, skipping container")
		report.Skipped = true
		return report, nil
	}

	target := driver.Target{
		Container:     c.Name,
		Dir:           dir,
		DockerOptions: c.Backup.DockerOptions,
		Naming:        c.Backup.Naming,
	}
	for _, step := range m.steps(driver.OpBackup, c, target, "") {
		if step.err != nil {
			log.Errorw("failed to build command", "command", step.name, "error", step.err)
			report.Failed = append(report.Failed, step.name)
			continue
		}
		m.runBackupStep(ctx, c, step.Step, &report)
	}

	m.runPost(ctx, c, c.Backup.PostCommands, c.Backup.DockerOptions, &report)
	return report, nil
}

func (m *Manager) restoreContainer(ctx context.Context, c models.Container, opts RestoreOptions) (ContainerReport, error) {
	log := m.log.With("container", c.Name)
	report := ContainerReport{Container: c.Name, Operation: driver.OpRestore, Started: m.now()}

	unlock, err := m.lock(c.Name)
	if err != nil {
		report.Skipped = true
		report.Failed = append(report.Failed, "lock "+c.Name)
		return report, fmt.Errorf("container %s: %w", c.Name, err)
	}
	defer unlock()

	target := driver.Target{
		Container:     c.Name,
		Dir:           m.ContainerDir(c.Name),
		DockerOptions: c.Restore.DockerOptions,
		Naming:        c.Backup.Naming,
		FileName:      opts.FileName,
	}
	steps := m.steps(driver.OpRestore, c, target, opts.Target)
	if len(steps) == 0 {
		log.Debugw("nothing to restore")
		return report, nil
	}

	log.Infow("starting restore", "dir", target.Dir)
	if !m.runPre(ctx, c, c.Restore.PreCommands, c.Restore.DockerOptions, &report) {
		log.Warnw("pre-command failed, skipping container")
		report.Skipped = true
		return report, nil
	}

	for _, step := range steps {
		if step.err != nil {
			log.Errorw("failed to build command", "command", step.name, "error", step.err)
			report.Failed = append(report.Failed, step.name)
			continue
		}
		if m.runStep(ctx, step.Step) {
			report.Successful = append(report.Successful, step.String())
		} else {
			report.Failed = append(report.Failed, step.String())
		}
	}

	m.runPost(ctx, c, c.Restore.PostCommands, c.Restore.DockerOptions, &report)
	return report, nil
}

// lock takes the container's run lock when locking is configured.
func (m *Manager) lock(container string) (func(), error) {
	if m.locks == nil {
		return func() {}, nil
	}
	if err := m.locks.TryLock(container, m.lockTimeout); err != nil {
		return nil, err
	}
	return func() { m.locks.Unlock(container) }, nil
}

type plannedStep struct {
	driver.Step
	name string
	err  error
}

// steps builds the database commands followed by the directory commands.
// A non-empty only keeps the database or directory of that name.
func (m *Manager) steps(op driver.Operation, c models.Container, t driver.Target, only string) []plannedStep {
	var steps []plannedStep
	for _, db := range c.Databases {
		if only != "" && only != db.Name {
			continue
		}
		var cmd *driver.DatabaseCommand
		var err error
		if op == driver.OpBackup {
			cmd, err = m.builder.DatabaseBackup(t, db)
		} else {
			cmd, err = m.builder.DatabaseRestore(t, db)
		}
		steps = append(steps, planned(cmd, err, "database "+db.Name))
	}
	for _, dir := range c.Directories {
		if only != "" && only != dir {
			continue
		}
		var cmd *driver.DirectoryCommand
		var err error
		if op == driver.OpBackup {
			cmd, err = m.builder.DirectoryBackup(t, dir)
		} else {
			cmd, err = m.builder.DirectoryRestore(t, dir)
		}
		steps = append(steps, planned(cmd, err, "tar "+dir))
	}
	return steps
}

func planned[T driver.Step](cmd T, err error, name string) plannedStep {
	if err != nil {
		return plannedStep{name: name, err: err}
	}
	return plannedStep{Step: cmd, name: name}
}

func (m *Manager) runStep(ctx context.Context, step command.Runnable) bool {
	result, err := step.RunWithResult(ctx)
	if err != nil {
		m.log.Errorw("command failed", "command", step.String(), "error", err)
		return false
	}
	if !result.Success() {
		m.log.Errorw("command failed", "command", step.String(), "exit_code", result.ExitCode,
			"stderr", strings.TrimSpace(result.StderrString()))
		return false
	}
	m.log.Infow("command succeeded", "command", step.String())
	return true
}

// runBackupStep runs one driver command and, on success, sets the artifact
// mode, verifies it if asked to and applies retention.
func (m *Manager) runBackupStep(ctx context.Context, c models.Container, step driver.Step, report *ContainerReport) {
	if !m.runStep(ctx, step) {
		report.Failed = append(report.Failed, step.String())
		return
	}

	file := step.File()
	path := file.Path()
	if err := os.Chmod(path, m.permissions.FileMode); err != nil {
		m.log.Warnw("failed to change artifact mode", "file", path, "error", err)
	}

	if c.Backup.Verify {
		verified, err := backupfile.Verify(path)
		if err != nil {
			m.log.Errorw("backup verification failed", "file", path, "error", err)
			report.Failed = append(report.Failed, "verify "+file.Name())
			return
		}
		m.log.Debugw("backup verified", "file", path, "bytes", verified.Bytes, "tar_entries", verified.TarEntries)
	}

	report.Successful = append(report.Successful, step.String())
	report.Artifacts = append(report.Artifacts, path)

	removed, err := file.Prune(c.Backup.VersionCount, m.log)
	if err != nil {
		m.log.Warnw("retention failed", "file", path, "error", err)
	}
	for _, name := range removed {
		report.Removed = append(report.Removed, filepath.Join(file.Dir(), name))
	}
}

func (m *Manager) commandContext(c models.Container, dockerOptions []string) project.CommandContext {
	return project.CommandContext{
		Container:     c.Name,
		DockerOptions: dockerOptions,
		HelperImage:   m.builder.HelperImage,
		Executor:      m.builder.Executor,
		Log:           m.log,
	}
}

// runPre runs the pre-commands in order and reports false at the first
// failure.
func (m *Manager) runPre(ctx context.Context, c models.Container, cfgs []models.CommandConfig, dockerOptions []string, report *ContainerReport) bool {
	for _, cfg := range cfgs {
		cmd, err := project.BuildCommand(cfg, m.commandContext(c, dockerOptions))
		if err != nil {
			m.log.Errorw("invalid pre-command", "command", cfg.Command, "error", err)
			report.Failed = append(report.Failed, cfg.Command)
			return false
		}
		if !m.runStep(ctx, cmd) {
			report.Failed = append(report.Failed, cmd.String())
			return false
		}
		report.Successful = append(report.Successful, cmd.String())
	}
	return true
}

// runPost runs the post-commands in order and stops at the first failure.
func (m *Manager) runPost(ctx context.Context, c models.Container, cfgs []models.CommandConfig, dockerOptions []string, report *ContainerReport) {
	for _, cfg := range cfgs {
		cmd, err := project.BuildCommand(cfg, m.commandContext(c, dockerOptions))
		if err != nil {
			m.log.Errorw("invalid post-command", "command", cfg.Command, "error", err)
			report.Failed = append(report.Failed, cfg.Command)
			return
		}
		if !m.runStep(ctx, cmd) {
			report.Failed = append(report.Failed, cmd.String())
			return
		}
		report.Successful = append(report.Successful, cmd.String())
	}
}

// finish hands the report to the notifier, the health reporter and the
// history.
func (m *Manager) finish(ctx context.Context, c models.Container, report ContainerReport) {
	failed := !report.OK()
	verb := "Backup"
	if report.Operation == driver.OpRestore {
		verb = "Restore"
	}

	if m.mode.ShouldNotify(failed) {
		msg := notify.RunMessage(verb, c.Name, report.Successful, report.Failed)
		if err := m.notifier.Notify(ctx, msg); err != nil {
			m.log.Errorw("failed to send notification", "container", c.Name, "error", err)
		}
	}

	if m.health != nil && report.Operation == driver.OpBackup && c.Backup.Healthchecks != nil {
		if failed {
			m.health.Failure(ctx, c.Name, "Failed commands: "+strings.Join(report.Failed, ", "))
		} else {
			m.health.Success(ctx, c.Name)
		}
	}

	if m.history != nil {
		if err := m.history.Add(newRun(m.project.Name, report)); err != nil {
			m.log.Warnw("failed to record run", "container", c.Name, "error", err)
		}
	}

	if failed {
		m.log.Errorw(fmt.Sprintf("%s finished with failures", strings.ToLower(verb)),
			"container", c.Name, "failed", report.Failed)
	} else {
		m.log.Infow(fmt.Sprintf("%s finished", strings.ToLower(verb)),
			"container", c.Name, "artifacts", len(report.Artifacts))
	}
}
