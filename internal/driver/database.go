package driver

import (
	"context"
	"fmt"

	"github.com/aelpxy/abackup/internal/backupfile"
	"github.com/aelpxy/abackup/internal/command"
	"github.com/aelpxy/abackup/pkg/models"
	"github.com/kballard/go-shellquote"
)

const dumpExtension = "sql"

type DatabaseCommand struct {
	b    *Builder
	op   Operation
	db   models.Database
	spec command.ContainerSpec
	file *backupfile.BackupFile
	tool string
	args []string
}

func (b *Builder) DatabaseBackup(t Target, db models.Database) (*DatabaseCommand, error) {
	return b.database(OpBackup, t, db)
}

func (b *Builder) DatabaseRestore(t Target, db models.Database) (*DatabaseCommand, error) {
	return b.database(OpRestore, t, db)
}

func (b *Builder) database(op Operation, t Target, db models.Database) (*DatabaseCommand, error) {
	if db.Name == "" {
		return nil, fmt.Errorf("database name not set")
	}

	spec := command.ContainerSpec{Container: t.Container, Mode: command.ModeExec, Options: t.DockerOptions}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var tool string
	var args []string
	switch db.Driver {
	case models.DriverMySQL:
		tool, args = mysqlArgs(op, db)
	case models.DriverPostgres:
		tool, args = postgresArgs(op, db)
		if db.Password != "" {
			spec = spec.WithOptions("-e", "PGPASSWORD="+db.Password)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, db.Driver)
	}

	return &DatabaseCommand{
		b:    b,
		op:   op,
		db:   db,
		spec: spec,
		file: b.file(t, db.Name, dumpExtension, db.Prefix),
		tool: tool,
		args: args,
	}, nil
}

func mysqlArgs(op Operation, db models.Database) (string, []string) {
	tool := "mysql"
	var args []string
	if op == OpBackup {
		tool = "mysqldump"
		args = append(args, "--single-transaction")
	}
	if db.User != "" {
		args = append(args, "-u", db.User)
	}
	if db.Password != "" {
		args = append(args, "-p"+db.Password)
	}
	args = append(args, db.Options.ExtraArgs...)
	args = append(args, db.Name)
	return tool, append([]string{tool}, args...)
}

func postgresArgs(op Operation, db models.Database) (string, []string) {
	var tool string
	var args []string
	switch {
	case op == OpBackup && db.Options.DumpAll:
		tool = "pg_dumpall"
	case op == OpBackup:
		tool = "pg_dump"
		args = append(args, "-d", db.Name)
	case db.Options.RestoreAll:
		tool = "psql"
		args = append(args, "-d", "postgres")
	default:
		tool = "psql"
		args = append(args, "-d", db.Name)
	}
	if db.User != "" {
		args = append(args, "-U", db.User)
	}
	args = append(args, db.Options.ExtraArgs...)
	return tool, append([]string{tool}, args...)
}

func (c *DatabaseCommand) Operation() Operation {
	return c.op
}

func (c *DatabaseCommand) File() *backupfile.BackupFile {
	return c.file
}

func (c *DatabaseCommand) Database() models.Database {
	return c.db
}

// String never includes the password.
func (c *DatabaseCommand) String() string {
	if c.tool == "pg_dumpall" {
		return c.tool
	}
	return fmt.Sprintf("%s %s", c.tool, c.db.Name)
}

func (c *DatabaseCommand) inner() string {
	return shellquote.Join(c.args...)
}

func (c *DatabaseCommand) Run(ctx context.Context) bool {
	result, err := c.RunWithResult(ctx)
	if err != nil {
		c.b.log().Errorw("database command failed", "command", c.String(), "error", err)
		return false
	}
	return result.Success()
}

func (c *DatabaseCommand) RunWithResult(ctx context.Context) (*command.Result, error) {
	if c.op == OpBackup {
		return c.backup(ctx)
	}
	return c.restore(ctx)
}

func (c *DatabaseCommand) backup(ctx context.Context) (*command.Result, error) {
	dump, err := c.b.NewToolCommand(c.spec, c.inner(), "", c.file.RawPath(), c.String())
	if err != nil {
		return failedResult(c.String(), err)
	}

	steps := command.NewComposite(dump)
	if c.file.Compressed() {
		steps.Add(c.b.hostCommand("gzip", "--force", "--rsyncable", c.file.RawPath()))
	}

	result, err := steps.RunWithResult(ctx)
	if result != nil {
		result.Description = c.String()
	}
	return result, err
}

// restore feeds the resolved artifact to the restore tool. A gzipped
// artifact is decompressed in place first and compressed again afterwards,
// whatever the current naming settings say.
func (c *DatabaseCommand) restore(ctx context.Context) (*command.Result, error) {
	path, err := c.file.Resolve()
	if err != nil {
		return failedResult(c.String(), err)
	}

	input := path
	if backupfile.IsCompressed(path) {
		gunzip := c.b.hostCommand("gzip", "--decompress", "--force", path)
		result, err := gunzip.RunWithResult(ctx)
		if err != nil || !result.Success() {
			if result != nil {
				result.Description = c.String()
			}
			return result, err
		}
		input = backupfile.StripCompression(path)
		defer c.b.runDeferred(ctx, c.b.hostCommand("gzip", "--force", "--rsyncable", input))
	}

	load, err := c.b.NewToolCommand(c.spec, c.inner(), input, "", c.String())
	if err != nil {
		return failedResult(c.String(), err)
	}
	return load.RunWithResult(ctx)
}
