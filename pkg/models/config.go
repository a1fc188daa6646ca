package models

type GlobalConfig struct {
	BackupRoot string `toml:"backup_root" json:"backup_root"`
	LogRoot    string `toml:"log_root" json:"log_root"`

	Logging       LoggingConfig       `toml:"logging" json:"logging"`
	Permissions   PermissionsConfig   `toml:"permissions" json:"permissions"`
	Docker        DockerConfig        `toml:"docker" json:"docker"`
	Notifications NotificationsConfig `toml:"notifications" json:"notifications"`
	Healthchecks  HealthchecksConfig  `toml:"healthchecks" json:"healthchecks"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
	File  string `toml:"file" json:"file"`
}

// PermissionsConfig holds octal permission strings like "0750".
type PermissionsConfig struct {
	Group       string `toml:"group" json:"group"`
	Directories string `toml:"directories" json:"directories"`
	Files       string `toml:"files" json:"files"`
}

type DockerConfig struct {
	Prefer      string `toml:"prefer" json:"prefer"`
	SocketPath  string `toml:"socket_path" json:"socket_path"`
	HelperImage string `toml:"helper_image" json:"helper_image"`
	TempRoot    string `toml:"temp_root" json:"temp_root"`
}

type NotificationsConfig struct {
	Slack SlackConfig `toml:"slack" json:"slack"`
}

type SlackConfig struct {
	APIURL   string `toml:"api_url" json:"api_url"`
	Username string `toml:"username" json:"username"`
	Channel  string `toml:"channel" json:"channel"`
}

type HealthchecksConfig struct {
	Default HealthcheckConfig `toml:"default" json:"default"`
}

// HealthcheckConfig fields left unset fall back to the global default.
type HealthcheckConfig struct {
	BaseURL         string `toml:"base_url" json:"base_url,omitempty"`
	UUID            string `toml:"uuid" json:"uuid,omitempty"`
	IncludeMessages *bool  `toml:"include_messages" json:"include_messages,omitempty"`
	NotifyStart     *bool  `toml:"notify_start" json:"notify_start,omitempty"`
}
