package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aelpxy/abackup/internal/backup"
	"github.com/aelpxy/abackup/internal/config"
	"github.com/aelpxy/abackup/internal/driver"
	"github.com/aelpxy/abackup/internal/healthcheck"
	"github.com/aelpxy/abackup/internal/logger"
	"github.com/aelpxy/abackup/internal/notify"
	"github.com/aelpxy/abackup/internal/project"
	"github.com/aelpxy/abackup/pkg/models"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("213"))

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Bold(true)
)

var (
	configPath        string
	projectConfigPath string
	debugLogging      bool
	noLogFile         bool
	lockTimeout       time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "abackup",
	Short: "backups for docker containers",
	Long: titleStyle.Render("abackup") + "\n" + subtitleStyle.Render("database and directory backups for docker containers") + "\n\n" +
		"Dumps databases and archives directories of the containers listed in a\n" +
		"project file, keeps a fixed number of versions and reports the outcome.",
	Version: "0.1.0",
}

func SetVersionInfo(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
	rootCmd.Version = fmt.Sprintf("%s (built: %s, commit: %s)", version, buildTime, gitCommit)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("[error] Error: %v", err)))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "global config file (default ~/.abackup/conf.toml)")
	rootCmd.PersistentFlags().StringVar(&projectConfigPath, "project-config", project.FileName, "project config file or directory")
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&noLogFile, "no-log", false, "do not write the log file")
	rootCmd.PersistentFlags().DurationVar(&lockTimeout, "lock-timeout", 10*time.Second, "how long to wait for a container locked by another run")
}

func exitWithError(message string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", errorStyle.Render("[error]"), message, err)
	} else {
		fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("[error]"), message)
	}
	os.Exit(1)
}

// environment is what every backup-related command loads before it runs.
type environment struct {
	configManager *config.ConfigManager
	cfg           *models.GlobalConfig
	project       *models.ProjectConfig
	projectPath   string
	log           *logger.Logger
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	path, err := config.DefaultPath()
	if err != nil {
		exitWithError("failed to locate config", err)
	}
	return path
}

func loadEnvironment(withProject bool) *environment {
	configManager, err := config.NewConfigManager(resolveConfigPath())
	if err != nil {
		exitWithError("failed to load config", err)
	}
	cfg := configManager.GetConfig()

	level := cfg.Logging.Level
	if debugLogging {
		level = "debug"
	}
	logFile := configManager.LogFile()
	if noLogFile {
		logFile = ""
	}
	log, err := logger.New(logger.Options{Level: level, File: logFile})
	if err != nil {
		exitWithError("failed to set up logging", err)
	}

	env := &environment{configManager: configManager, cfg: cfg, log: log}
	if !withProject {
		return env
	}

	if err := configManager.Validate(); err != nil {
		exitWithError(fmt.Sprintf("invalid config %s", configManager.Path()), err)
	}

	proj, path, err := project.LoadConfig(projectConfigPath)
	if err != nil {
		exitWithError("failed to load project", err)
	}
	env.project = proj
	env.projectPath, _ = filepath.Abs(path)
	return env
}

func (e *environment) close() {
	e.log.Close()
}

func (e *environment) containers(names []string) []models.Container {
	containers, err := project.SelectContainers(e.project, names)
	if err != nil {
		exitWithError("failed to select containers", err)
	}
	return containers
}

func (e *environment) builder() *driver.Builder {
	return &driver.Builder{
		Logger:      e.log.SugaredLogger,
		HelperImage: e.cfg.Docker.HelperImage,
		TempRoot:    e.cfg.Docker.TempRoot,
	}
}

func (e *environment) history() *backup.History {
	history := backup.NewHistory(e.cfg.BackupRoot, e.project.Name)
	if err := history.Load(); err != nil {
		e.log.Warnw("history could not be read, starting a new one", "path", history.Path(), "error", err)
		history = backup.NewHistory(e.cfg.BackupRoot, e.project.Name)
	}
	return history
}

// manager wires the orchestrator. Healthchecks are only sent when asked for.
func (e *environment) manager(mode notify.Mode, healthchecks bool, containers []models.Container) *backup.Manager {
	notifier := notify.New(e.cfg.Notifications, e.log.SugaredLogger)

	var health backup.HealthReporter
	if healthchecks {
		pinger := healthcheck.NewPinger(e.cfg.Healthchecks.Default, notifier, mode, e.log.SugaredLogger)
		for _, c := range containers {
			if c.Backup.Healthchecks != nil {
				pinger.Register(c.Name, c.Backup.Healthchecks)
			}
		}
		health = pinger
	}

	m, err := backup.NewManager(backup.Options{
		Root:    e.cfg.BackupRoot,
		Project: e.project,
		Builder: e.builder(),
		Permissions: backup.Permissions{
			Group:    e.cfg.Permissions.Group,
			DirMode:  e.configManager.DirMode(),
			FileMode: e.configManager.FileMode(),
		},
		Notifier:    notifier,
		Mode:        mode,
		Health:      health,
		History:     e.history(),
		Locks:       backup.NewLockManager(e.cfg.BackupRoot, e.project.Name),
		LockTimeout: lockTimeout,
		Logger:      e.log.SugaredLogger,
	})
	if err != nil {
		exitWithError("failed to initialize backup manager", err)
	}
	return m
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func parseNotifyMode(s string) notify.Mode {
	mode, err := notify.ParseMode(s)
	if err != nil {
		exitWithError("invalid --notify", err)
	}
	return mode
}

func printReports(reports []backup.ContainerReport) {
	for _, report := range reports {
		switch {
		case report.Skipped:
			fmt.Printf("  %s %s %s\n", errorStyle.Render("[skipped]"), valueStyle.Render(report.Container), dimStyle.Render("("+report.SkipReason()+")"))
		case report.OK():
			fmt.Printf("  %s %s\n", successStyle.Render("[done]"), valueStyle.Render(report.Container))
		default:
			fmt.Printf("  %s %s\n", errorStyle.Render("[failed]"), valueStyle.Render(report.Container))
		}
		for _, s := range report.Successful {
			fmt.Printf("    %s %s\n", successStyle.Render("[✓]"), dimStyle.Render(s))
		}
		for _, f := range report.Failed {
			fmt.Printf("    %s %s\n", errorStyle.Render("[✗]"), f)
		}
		for _, a := range report.Artifacts {
			fmt.Printf("    %s %s\n", labelStyle.Render("artifact:"), infoStyle.Render(a))
		}
		for _, r := range report.Removed {
			fmt.Printf("    %s %s\n", labelStyle.Render("removed:"), dimStyle.Render(r))
		}
	}
	fmt.Println()
}
