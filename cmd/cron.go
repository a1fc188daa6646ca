package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aelpxy/abackup/internal/backup"
	"github.com/aelpxy/abackup/internal/notify"
	"github.com/aelpxy/abackup/internal/schedule"
	"github.com/aelpxy/abackup/internal/utils"
	"github.com/spf13/cobra"
)

var (
	cronContainers []string
	cronOutput     string
	cronInstall    bool
	cronBinary     string
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Generate crontab entries for auto backups",
	Long:  "Print one crontab entry per auto_backup entry of the project, write them to a file, or merge them into the user's crontab",
	Args:  cobra.NoArgs,
	Run:   runCron,
}

var cronRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run auto backups in the foreground",
	Long:  "Run the project's auto_backup entries on their schedule until interrupted",
	Args:  cobra.NoArgs,
	Run:   runCronRun,
}

func runCron(cmd *cobra.Command, args []string) {
	env := loadEnvironment(true)
	defer env.close()

	jobs := schedule.Jobs(env.project.Name, env.containers(cronContainers))
	if len(jobs) == 0 {
		fmt.Println(dimStyle.Render("no auto_backup entries configured"))
		return
	}

	binary := cronBinary
	if binary == "" {
		if exe, err := os.Executable(); err == nil {
			binary = exe
		}
	}
	var absConfig string
	if configPath != "" {
		absConfig, _ = filepath.Abs(configPath)
	}
	crontab := schedule.Crontab{Binary: binary, ConfigPath: absConfig, ProjectConfig: env.projectPath}

	if cronInstall {
		ctx, cancel := signalContext()
		defer cancel()

		if _, err := crontab.Install(ctx, env.project.Name, jobs); err != nil {
			env.close()
			exitWithError("failed to install crontab", err)
		}
		fmt.Println(successStyle.Render("  [done]") + fmt.Sprintf(" installed %d crontab entries", len(jobs)))
		return
	}

	rendered, err := crontab.Render(jobs)
	if err != nil {
		env.close()
		exitWithError("failed to render crontab", err)
	}

	if cronOutput != "" {
		if err := utils.AtomicWriteFile(cronOutput, []byte(rendered), 0644); err != nil {
			env.close()
			exitWithError("failed to write crontab file", err)
		}
		fmt.Println(successStyle.Render("  [done]") + " crontab written to " + valueStyle.Render(cronOutput))
		return
	}

	fmt.Print(rendered)
}

func runCronRun(cmd *cobra.Command, args []string) {
	env := loadEnvironment(true)
	defer env.close()

	jobs := schedule.Jobs(env.project.Name, env.containers(cronContainers))
	if len(jobs) == 0 {
		env.close()
		exitWithError("no auto_backup entries configured", nil)
	}

	ctx, cancel := signalContext()
	defer cancel()

	scheduler := schedule.NewScheduler(env.log.SugaredLogger)
	for _, job := range jobs {
		if err := scheduler.AddJob(ctx, job, func(ctx context.Context, job schedule.Job) error {
			return runScheduledBackup(ctx, env, job)
		}); err != nil {
			env.close()
			exitWithError(fmt.Sprintf("failed to schedule %s", job.Container), err)
		}
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("==> scheduling project: %s", env.project.Name)))
	fmt.Println()
	now := time.Now()
	for _, job := range jobs {
		next, _ := schedule.Next(job.Frequency, now)
		fmt.Printf("  %s %s %s\n", valueStyle.Render(job.Container), dimStyle.Render(job.Frequency),
			labelStyle.Render("next: "+next.Format("2006-01-02 15:04")))
	}
	fmt.Println()

	scheduler.Start()
	<-ctx.Done()
	fmt.Println(progressStyle.Render("  --> waiting for running backups..."))
	scheduler.Stop()
}

func runScheduledBackup(ctx context.Context, env *environment, job schedule.Job) error {
	mode, err := notify.ParseMode(job.Notify)
	if err != nil {
		return err
	}
	containers := env.containers([]string{job.Container})
	reports, err := env.manager(mode, job.Healthchecks, containers).Backup(ctx, containers)
	if err != nil {
		return err
	}
	if !backup.Succeeded(reports) {
		return fmt.Errorf("backup of %s had failures", job.Container)
	}
	return nil
}

func init() {
	cronCmd.PersistentFlags().StringSliceVarP(&cronContainers, "container", "c", nil, "only these containers")
	cronCmd.Flags().StringVarP(&cronOutput, "output", "o", "", "write the entries to this file")
	cronCmd.Flags().BoolVar(&cronInstall, "install", false, "merge the entries into the user's crontab")
	cronCmd.Flags().StringVar(&cronBinary, "binary", "", "path of the abackup binary (default: this executable)")
	cronCmd.AddCommand(cronRunCmd)
	rootCmd.AddCommand(cronCmd)
}
