package models

import (
	"fmt"
	"strings"
)

type ProjectConfig struct {
	Name       string      `toml:"name" json:"name"`
	Containers []Container `toml:"containers" json:"containers"`
}

type Container struct {
	Name        string     `toml:"name" json:"name"`
	Directories []string   `toml:"directories" json:"directories"`
	Databases   []Database `toml:"databases" json:"databases"`

	Backup  BackupConfig  `toml:"backup" json:"backup"`
	Restore RestoreConfig `toml:"restore" json:"restore"`
}

type DriverType string

const (
	DriverMySQL    DriverType = "mysql"
	DriverPostgres DriverType = "postgres"
)

type Database struct {
	Name     string          `toml:"name" json:"name"`
	Driver   DriverType      `toml:"driver" json:"driver"`
	User     string          `toml:"user" json:"user"`
	Password string          `toml:"password" json:"-"`
	Prefix   string          `toml:"prefix" json:"prefix,omitempty"`
	Options  DatabaseOptions `toml:"options" json:"options"`
}

type DatabaseOptions struct {
	DumpAll    bool     `toml:"dump_all" json:"dump_all"`
	RestoreAll bool     `toml:"restore_all" json:"restore_all"`
	ExtraArgs  []string `toml:"extra_args" json:"extra_args,omitempty"`
}

type BackupConfig struct {
	VersionCount  int             `toml:"version_count" json:"version_count"`
	DockerOptions []string        `toml:"docker_options" json:"docker_options"`
	PreCommands   []CommandConfig `toml:"pre_commands" json:"pre_commands"`
	PostCommands  []CommandConfig `toml:"post_commands" json:"post_commands"`
	Verify        bool            `toml:"verify" json:"verify"`
	Naming        NamingConfig    `toml:"naming" json:"naming"`
	AutoBackup    []AutoBackup    `toml:"auto_backup" json:"auto_backup"`

	Healthchecks *HealthcheckConfig `toml:"healthchecks" json:"healthchecks,omitempty"`
}

type RestoreConfig struct {
	DockerOptions []string        `toml:"docker_options" json:"docker_options"`
	PreCommands   []CommandConfig `toml:"pre_commands" json:"pre_commands"`
	PostCommands  []CommandConfig `toml:"post_commands" json:"post_commands"`
}

type NamingConfig struct {
	Single         bool   `toml:"single" json:"single"`
	Prefix         string `toml:"prefix" json:"prefix,omitempty"`
	ForceTimestamp bool   `toml:"force_timestamp" json:"force_timestamp"`
	Compress       *bool  `toml:"compress" json:"compress,omitempty"`
}

// Compressed defaults to true when compress is not set.
func (n NamingConfig) Compressed() bool {
	return n.Compress == nil || *n.Compress
}

type AutoBackup struct {
	Frequency    string `toml:"frequency" json:"frequency"`
	Notify       string `toml:"notify" json:"notify"`
	Healthchecks bool   `toml:"healthchecks" json:"healthchecks"`
}

type CommandType string

const (
	CommandHost   CommandType = "host"
	CommandDocker CommandType = "docker"
	CommandRemote CommandType = "remote"
)

// CommandConfig is a pre/post command. In TOML it is either a plain string,
// run on the host, or a table.
type CommandConfig struct {
	Command string      `toml:"command" json:"command"`
	Type    CommandType `toml:"type" json:"type"`

	DockerOptions []string `toml:"docker_options" json:"docker_options,omitempty"`
	InContainer   bool     `toml:"in_container" json:"in_container,omitempty"`

	Input      string `toml:"input" json:"input,omitempty"`
	InputPath  string `toml:"input_path" json:"input_path,omitempty"`
	OutputPath string `toml:"output_path" json:"output_path,omitempty"`

	Host       string `toml:"host" json:"host,omitempty"`
	Port       int    `toml:"port" json:"port,omitempty"`
	User       string `toml:"user" json:"user,omitempty"`
	SSHKey     string `toml:"ssh_key" json:"ssh_key,omitempty"`
	LoginShell *bool  `toml:"login_shell" json:"login_shell,omitempty"`
}

func (c *CommandConfig) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case string:
		*c = CommandConfig{Command: v, Type: CommandHost}
		return nil
	case map[string]any:
		return c.fromTable(v)
	default:
		return fmt.Errorf("command must be a string or a table, got %T", data)
	}
}

func (c *CommandConfig) fromTable(table map[string]any) error {
	out := CommandConfig{Type: CommandHost}

	for key, value := range table {
		var err error
		switch key {
		case "command":
			out.Command, err = tomlString(key, value)
		case "type":
			var s string
			s, err = tomlString(key, value)
			out.Type = CommandType(strings.ToLower(s))
		case "docker_options":
			out.DockerOptions, err = tomlStrings(key, value)
		case "in_container":
			out.InContainer, err = tomlBool(key, value)
		case "input":
			out.Input, err = tomlString(key, value)
		case "input_path":
			out.InputPath, err = tomlString(key, value)
		case "output_path":
			out.OutputPath, err = tomlString(key, value)
		case "host":
			out.Host, err = tomlString(key, value)
		case "port":
			n, ok := value.(int64)
			if !ok {
				err = fmt.Errorf("%s must be an integer", key)
			}
			out.Port = int(n)
		case "user":
			out.User, err = tomlString(key, value)
		case "ssh_key":
			out.SSHKey, err = tomlString(key, value)
		case "login_shell":
			var b bool
			b, err = tomlBool(key, value)
			out.LoginShell = &b
		default:
			err = fmt.Errorf("unknown command key: %s", key)
		}
		if err != nil {
			return err
		}
	}

	*c = out
	return nil
}

func tomlString(key string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

func tomlBool(key string, value any) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}

func tomlStrings(key string, value any) ([]string, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an array of strings", key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be an array of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}
