package cmd

import (
	"fmt"
	"os"

	"github.com/aelpxy/abackup/internal/backup"
	"github.com/spf13/cobra"
)

var (
	restoreContainers []string
	restoreTarget     string
	restoreFile       string
	restoreNotify     string
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the project's containers",
	Long: "Restore databases and directories from their youngest backup, or from an explicit file.\n" +
		"--file needs a single --container and a --target naming the database or directory.",
	Args: cobra.NoArgs,
	Run:  runRestore,
}

func runRestore(cmd *cobra.Command, args []string) {
	mode := parseNotifyMode(restoreNotify)
	if restoreFile != "" && (restoreTarget == "" || len(restoreContainers) != 1) {
		exitWithError("--file needs exactly one --container and a --target", nil)
	}

	env := loadEnvironment(true)
	defer env.close()

	containers := env.containers(restoreContainers)
	manager := env.manager(mode, false, containers)

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println(titleStyle.Render(fmt.Sprintf("==> restoring project: %s", env.project.Name)))
	fmt.Println()
	if restoreTarget != "" {
		fmt.Println(progressStyle.Render(fmt.Sprintf("  --> target: %s", restoreTarget)))
	}
	if restoreFile != "" {
		fmt.Println(progressStyle.Render(fmt.Sprintf("  --> from file: %s", restoreFile)))
	}
	fmt.Println()

	reports, err := manager.Restore(ctx, containers, backup.RestoreOptions{Target: restoreTarget, FileName: restoreFile})
	printReports(reports)

	if err != nil {
		env.close()
		exitWithError("restore failed", err)
	}
	if !backup.Succeeded(reports) {
		env.close()
		fmt.Fprintln(os.Stderr, errorStyle.Render("  [error] some restores failed"))
		os.Exit(1)
	}

	fmt.Println(successStyle.Render("  [done] restore finished"))
	fmt.Println()
}

func init() {
	restoreCmd.Flags().StringSliceVarP(&restoreContainers, "container", "c", nil, "only restore these containers")
	restoreCmd.Flags().StringVarP(&restoreTarget, "target", "t", "", "database name or directory to restore")
	restoreCmd.Flags().StringVarP(&restoreFile, "file", "f", "", "backup file name to restore from")
	restoreCmd.Flags().StringVar(&restoreNotify, "notify", "auto", "when to notify: auto, always, or never")
	rootCmd.AddCommand(restoreCmd)
}
