package cmd

import (
	"fmt"
	"os"

	"github.com/aelpxy/abackup/internal/backup"
	"github.com/spf13/cobra"
)

var (
	backupContainers   []string
	backupNotify       string
	backupHealthchecks bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the project's containers",
	Long:  "Dump the databases and archive the directories of every container in the project, or only the named ones",
	Args:  cobra.NoArgs,
	Run:   runBackup,
}

func runBackup(cmd *cobra.Command, args []string) {
	mode := parseNotifyMode(backupNotify)

	env := loadEnvironment(true)
	defer env.close()

	containers := env.containers(backupContainers)
	manager := env.manager(mode, backupHealthchecks, containers)

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println(titleStyle.Render(fmt.Sprintf("==> backing up project: %s", env.project.Name)))
	fmt.Println()
	fmt.Println(progressStyle.Render(fmt.Sprintf("  --> %d container(s) into %s", len(containers), env.cfg.BackupRoot)))
	fmt.Println()

	reports, err := manager.Backup(ctx, containers)
	printReports(reports)

	if err != nil {
		env.close()
		exitWithError("backup setup failed", err)
	}
	if !backup.Succeeded(reports) {
		env.close()
		fmt.Fprintln(os.Stderr, errorStyle.Render("  [error] some backups failed"))
		os.Exit(1)
	}

	fmt.Println(successStyle.Render("  [done] backup finished"))
	fmt.Println()
}

func init() {
	backupCmd.Flags().StringSliceVarP(&backupContainers, "container", "c", nil, "only back up these containers")
	backupCmd.Flags().StringVar(&backupNotify, "notify", "auto", "when to notify: auto, always, or never")
	backupCmd.Flags().BoolVar(&backupHealthchecks, "healthchecks", false, "ping the configured healthchecks")
	rootCmd.AddCommand(backupCmd)
}
