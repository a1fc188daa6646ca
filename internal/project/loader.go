package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/aelpxy/abackup/internal/notify"
	"github.com/aelpxy/abackup/internal/schedule"
	"github.com/aelpxy/abackup/internal/utils"
	"github.com/aelpxy/abackup/pkg/models"
)

const FileName = "project.toml"

// LoadConfig reads a project file. path may be the file itself or the
// directory holding project.toml.
func LoadConfig(path string) (*models.ProjectConfig, string, error) {
	configPath, err := utils.ResolveFile(path, FileName)
	if err != nil {
		return nil, "", err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, "", fmt.Errorf("%s not found", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", filepath.Base(configPath), err)
	}

	var config models.ProjectConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, "", fmt.Errorf("failed to parse %s: %w", filepath.Base(configPath), err)
	}

	if config.Name == "" {
		config.Name = filepath.Base(filepath.Dir(configPath))
	}

	if err := validateAndSetDefaults(&config); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, configPath, nil
}

func validateAndSetDefaults(config *models.ProjectConfig) error {
	if !utils.IsValidName(config.Name) {
		return fmt.Errorf("invalid project name: %q", config.Name)
	}
	if len(config.Containers) == 0 {
		return fmt.Errorf("no containers defined")
	}

	seen := make(map[string]bool)
	for i := range config.Containers {
		c := &config.Containers[i]
		if !utils.IsValidName(c.Name) {
			return fmt.Errorf("invalid container name: %q", c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate container: %s", c.Name)
		}
		seen[c.Name] = true

		if err := validateContainer(c); err != nil {
			return fmt.Errorf("container %s: %w", c.Name, err)
		}
	}

	return nil
}

func validateContainer(c *models.Container) error {
	if c.Backup.VersionCount == 0 {
		c.Backup.VersionCount = 1
	}
	if c.Backup.VersionCount < 1 {
		return fmt.Errorf("version_count must be at least 1, got: %d", c.Backup.VersionCount)
	}

	dbNames := make(map[string]bool)
	for i := range c.Databases {
		db := &c.Databases[i]
		if db.Name == "" {
			return fmt.Errorf("database without a name")
		}
		if dbNames[db.Name] {
			return fmt.Errorf("duplicate database: %s", db.Name)
		}
		dbNames[db.Name] = true

		db.Driver = models.DriverType(strings.ToLower(string(db.Driver)))
		switch db.Driver {
		case models.DriverMySQL, models.DriverPostgres:
		default:
			return fmt.Errorf("invalid driver for database %s: %q (must be mysql or postgres)", db.Name, db.Driver)
		}
	}

	for _, dir := range c.Directories {
		if !strings.HasPrefix(dir, "/") {
			return fmt.Errorf("directory must be absolute: %s", dir)
		}
	}

	for i := range c.Backup.AutoBackup {
		auto := &c.Backup.AutoBackup[i]
		if auto.Frequency == "" {
			auto.Frequency = schedule.DefaultFrequency
		}
		if err := schedule.Validate(auto.Frequency); err != nil {
			return err
		}
		mode, err := notify.ParseMode(auto.Notify)
		if err != nil {
			return err
		}
		auto.Notify = string(mode)
	}

	for _, list := range [][]models.CommandConfig{
		c.Backup.PreCommands, c.Backup.PostCommands,
		c.Restore.PreCommands, c.Restore.PostCommands,
	} {
		for _, cmd := range list {
			if err := validateCommand(cmd); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateCommand(cmd models.CommandConfig) error {
	if strings.TrimSpace(cmd.Command) == "" {
		return fmt.Errorf("empty command")
	}
	if cmd.Input != "" && cmd.InputPath != "" {
		return fmt.Errorf("command %q: input and input_path are mutually exclusive", cmd.Command)
	}
	switch cmd.Type {
	case models.CommandHost, models.CommandDocker, "":
	case models.CommandRemote:
		if cmd.Host == "" {
			return fmt.Errorf("remote command %q: host not set", cmd.Command)
		}
	default:
		return fmt.Errorf("command %q: invalid type %q (must be host, docker, or remote)", cmd.Command, cmd.Type)
	}
	return nil
}

// SelectContainers keeps the named containers in config order. No names
// selects every container.
func SelectContainers(config *models.ProjectConfig, names []string) ([]models.Container, error) {
	if len(names) == 0 {
		return config.Containers, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var selected []models.Container
	for _, c := range config.Containers {
		if wanted[c.Name] {
			selected = append(selected, c)
			delete(wanted, c.Name)
		}
	}

	if len(wanted) > 0 {
		var missing []string
		for _, n := range names {
			if wanted[n] {
				missing = append(missing, n)
			}
		}
		return nil, fmt.Errorf("unknown container: %s", strings.Join(missing, ", "))
	}

	return selected, nil
}
