package project

import (
	"fmt"

	"github.com/aelpxy/abackup/internal/command"
	"github.com/aelpxy/abackup/pkg/models"
	"go.uber.org/zap"
)

// CommandContext is what a pre/post command needs from its container.
type CommandContext struct {
	Container     string
	DockerOptions []string
	HelperImage   string
	Executor      command.Executor
	Log           *zap.SugaredLogger
}

func BuildCommands(cfgs []models.CommandConfig, cc CommandContext) ([]command.Runnable, error) {
	commands := make([]command.Runnable, 0, len(cfgs))
	for _, cfg := range cfgs {
		cmd, err := BuildCommand(cfg, cc)
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

func BuildCommand(cfg models.CommandConfig, cc CommandContext) (command.Runnable, error) {
	opts := []command.Option{command.WithExecutor(cc.Executor), command.WithLogger(cc.Log)}
	switch {
	case cfg.Input != "":
		opts = append(opts, command.WithInput(cfg.Input))
	case cfg.InputPath != "":
		opts = append(opts, command.WithInputFile(cfg.InputPath))
	}
	if cfg.OutputPath != "" {
		opts = append(opts, command.WithOutputFile(cfg.OutputPath))
	}

	switch cfg.Type {
	case models.CommandHost, "":
		return command.New(cfg.Command, append(opts, command.WithDescription(cfg.Command))...)

	case models.CommandDocker:
		spec := command.ContainerSpec{
			Container:   cc.Container,
			Mode:        command.ModeRun,
			Options:     cc.DockerOptions,
			HelperImage: cc.HelperImage,
		}
		if len(cfg.DockerOptions) > 0 {
			spec.Options = cfg.DockerOptions
		}
		if cfg.InContainer {
			spec.Mode = command.ModeExec
		} else {
			spec = spec.WithFlags("--rm")
		}
		if cfg.Input != "" || cfg.InputPath != "" {
			spec = spec.WithFlags("-i")
		}
		return spec.Command(cfg.Command, append(opts, command.WithDescription(cfg.Command))...)

	case models.CommandRemote:
		remote := command.Remote{Host: cfg.Host, Port: cfg.Port, User: cfg.User, SSHKey: cfg.SSHKey}
		loginShell := cfg.LoginShell == nil || *cfg.LoginShell
		return command.NewRemoteLine(remote, cfg.Command, loginShell, opts...)

	default:
		return nil, fmt.Errorf("invalid command type: %q", cfg.Type)
	}
}
