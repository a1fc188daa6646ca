package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/aelpxy/abackup/internal/command"
	"github.com/aelpxy/abackup/internal/driver"
	"github.com/aelpxy/abackup/internal/utils"
	"github.com/aelpxy/abackup/pkg/models"
)

const (
	DirName         = ".abackup"
	FileName        = "conf.toml"
	LogFileName     = "abackup.log"
	DefaultDirMode  = "0750"
	DefaultFileMode = "0640"
)

var ErrNoBackupRoot = errors.New("backup_root not configured")

type ConfigManager struct {
	configPath string
	config     *models.GlobalConfig
}

// DefaultPath is ~/.abackup/conf.toml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, DirName, FileName), nil
}

// NewConfigManager loads the config at path, or the default path when empty.
// A missing file yields defaults so `config init` can write one.
func NewConfigManager(path string) (*ConfigManager, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	cm := &ConfigManager{configPath: path}

	if err := cm.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cm.config = &models.GlobalConfig{}
	}

	if err := setDefaults(cm.config, filepath.Dir(path)); err != nil {
		return nil, err
	}

	return cm, nil
}

func (cm *ConfigManager) Load() error {
	if _, err := os.Stat(cm.configPath); err != nil {
		return err
	}

	var config models.GlobalConfig
	if _, err := toml.DecodeFile(cm.configPath, &config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	cm.config = &config
	return nil
}

func (cm *ConfigManager) Save() error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cm.config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := utils.AtomicWriteFile(cm.configPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (cm *ConfigManager) Exists() bool {
	_, err := os.Stat(cm.configPath)
	return err == nil
}

func (cm *ConfigManager) Path() string {
	return cm.configPath
}

func (cm *ConfigManager) GetConfig() *models.GlobalConfig {
	return cm.config
}

// LogFile is the rotating log file, or "" when logging to a file is off.
func (cm *ConfigManager) LogFile() string {
	if cm.config.Logging.File != "" {
		return cm.config.Logging.File
	}
	if cm.config.LogRoot == "" {
		return ""
	}
	return filepath.Join(cm.config.LogRoot, LogFileName)
}

// Validate checks what a backup or restore needs before anything runs.
func (cm *ConfigManager) Validate() error {
	cfg := cm.config
	if cfg.BackupRoot == "" {
		return ErrNoBackupRoot
	}
	if !filepath.IsAbs(cfg.BackupRoot) {
		return fmt.Errorf("backup_root must be an absolute path: %s", cfg.BackupRoot)
	}
	if _, err := utils.ParseFileMode(cfg.Permissions.Directories); err != nil {
		return fmt.Errorf("permissions.directories: %w", err)
	}
	if _, err := utils.ParseFileMode(cfg.Permissions.Files); err != nil {
		return fmt.Errorf("permissions.files: %w", err)
	}
	return nil
}

func (cm *ConfigManager) DirMode() os.FileMode {
	mode, _ := utils.ParseFileMode(cm.config.Permissions.Directories)
	return mode
}

func (cm *ConfigManager) FileMode() os.FileMode {
	mode, _ := utils.ParseFileMode(cm.config.Permissions.Files)
	return mode
}

func setDefaults(config *models.GlobalConfig, configDir string) error {
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.LogRoot == "" {
		config.LogRoot = filepath.Join(configDir, "logs")
	}

	if config.Permissions.Directories == "" {
		config.Permissions.Directories = DefaultDirMode
	}
	if config.Permissions.Files == "" {
		config.Permissions.Files = DefaultFileMode
	}

	if config.Docker.HelperImage == "" {
		config.Docker.HelperImage = command.DefaultHelperImage
	}
	if config.Docker.TempRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		config.Docker.TempRoot = filepath.Join(cwd, driver.TempDirName)
	}

	return nil
}
