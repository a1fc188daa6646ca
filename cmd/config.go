package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aelpxy/abackup/internal/utils"
	"github.com/spf13/cobra"
)

var (
	initBackupRoot string
	initGroup      string
	initSlackURL   string
	initForce      bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "manage abackup configuration",
	Long:  "create and inspect the global abackup configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "create the global configuration",
	Long:  "write a conf.toml with the backup root and optional notification settings",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		env := loadEnvironment(false)
		defer env.close()

		if env.configManager.Exists() && !initForce {
			env.close()
			exitWithError(fmt.Sprintf("%s already exists (use --force to overwrite)", env.configManager.Path()), nil)
		}

		reader := bufio.NewReader(os.Stdin)
		if initBackupRoot == "" {
			fmt.Println()
			fmt.Println(titleStyle.Render("==> abackup configuration"))
			fmt.Println()
			fmt.Println("  directory that holds every project's backups")
			fmt.Print("  enter backup root (e.g., /srv/backups): ")
			input, _ := reader.ReadString('\n')
			initBackupRoot = strings.TrimSpace(input)
		}
		if initBackupRoot == "" {
			env.close()
			exitWithError("backup root is required", nil)
		}

		root, err := filepath.Abs(initBackupRoot)
		if err != nil {
			env.close()
			exitWithError("invalid backup root", err)
		}

		cfg := env.configManager.GetConfig()
		cfg.BackupRoot = root
		if initGroup != "" {
			cfg.Permissions.Group = initGroup
		}
		if initSlackURL != "" {
			cfg.Notifications.Slack.APIURL = initSlackURL
		}

		if err := env.configManager.Validate(); err != nil {
			env.close()
			exitWithError("invalid configuration", err)
		}
		if err := env.configManager.Save(); err != nil {
			env.close()
			exitWithError("failed to save config", err)
		}

		fmt.Println()
		fmt.Println(successStyle.Render("  [done]") + " configuration written to " + valueStyle.Render(env.configManager.Path()))
		fmt.Println()
		fmt.Println("  " + dimStyle.Render("next: describe your containers in project.toml and run 'abackup doctor'"))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "display current configuration",
	Long:  "show the global configuration with defaults applied",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		env := loadEnvironment(false)
		defer env.close()

		cfg := env.cfg
		field := func(label, value string) {
			if value == "" {
				value = dimStyle.Render("(not set)")
			} else {
				value = infoStyle.Render(value)
			}
			fmt.Printf("    %s %s\n", labelStyle.Render(label+":"), value)
		}

		fmt.Println()
		fmt.Println(titleStyle.Render("==> abackup configuration"))
		fmt.Println("  " + dimStyle.Render(env.configManager.Path()))
		fmt.Println()

		fmt.Println("  " + labelStyle.Render("storage:"))
		field("backup root", cfg.BackupRoot)
		field("log file", env.configManager.LogFile())
		field("log level", cfg.Logging.Level)
		fmt.Println()

		fmt.Println("  " + labelStyle.Render("permissions:"))
		field("group", cfg.Permissions.Group)
		field("directories", cfg.Permissions.Directories)
		field("files", cfg.Permissions.Files)
		fmt.Println()

		fmt.Println("  " + labelStyle.Render("docker:"))
		field("runtime", cfg.Docker.Prefer)
		field("socket", cfg.Docker.SocketPath)
		field("helper image", cfg.Docker.HelperImage)
		field("temp root", cfg.Docker.TempRoot)
		fmt.Println()

		fmt.Println("  " + labelStyle.Render("notifications:"))
		field("slack webhook", utils.MaskSensitive(cfg.Notifications.Slack.APIURL, 24))
		field("slack channel", cfg.Notifications.Slack.Channel)
		fmt.Println()

		fmt.Println("  " + labelStyle.Render("healthchecks:"))
		field("base url", cfg.Healthchecks.Default.BaseURL)
		field("uuid", utils.MaskSensitive(cfg.Healthchecks.Default.UUID, 4))
		fmt.Println()

		if err := env.configManager.Validate(); err != nil {
			fmt.Println("  " + errorStyle.Render("[!]") + " " + err.Error())
			fmt.Println()
		}
	},
}

func init() {
	configInitCmd.Flags().StringVar(&initBackupRoot, "backup-root", "", "directory that holds all backups")
	configInitCmd.Flags().StringVar(&initGroup, "group", "", "group that owns backup directories")
	configInitCmd.Flags().StringVar(&initSlackURL, "slack-url", "", "slack webhook url for notifications")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing configuration")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
