package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aelpxy/abackup/internal/command"
	"github.com/aelpxy/abackup/internal/docker"
	"github.com/aelpxy/abackup/internal/project"
	"github.com/aelpxy/abackup/internal/runtime"
	"github.com/aelpxy/abackup/internal/utils"
	"github.com/aelpxy/abackup/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// minFreeBytes is the free space below which the backup root is flagged.
const minFreeBytes = 1 << 30

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that backups can run",
	Long:  "Verify the container runtime, the configuration, the backup root and the state of the project's containers",
	Run:   runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) {
	fmt.Println(titleStyle.Render("==> checking backup prerequisites"))
	fmt.Println()

	env := loadEnvironment(false)
	defer env.close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	allGood := true

	client, ok := checkRuntime(ctx, env.cfg.Docker)
	allGood = ok && allGood
	if client != nil {
		defer client.Close()
	}

	allGood = checkGlobalConfig(env) && allGood
	allGood = checkBackupRoot(env.cfg.BackupRoot) && allGood

	proj, ok := checkProject()
	allGood = ok && allGood
	if proj != nil && client != nil {
		allGood = checkContainers(ctx, client, proj) && allGood
	}

	fmt.Println()
	if allGood {
		fmt.Println(successStyle.Render("  [done] all checks passed"))
	} else {
		env.close()
		fmt.Println(errorStyle.Render("  [error] some checks failed"))
		fmt.Println()
		fmt.Println(dimStyle.Render("  fix the issues above before running backups"))
		os.Exit(1)
	}
}

func checkRuntime(ctx context.Context, cfg models.DockerConfig) (*docker.Client, bool) {
	fmt.Println(labelStyle.Render("  runtime"))

	info, err := runtime.DetectRuntime(ctx, cfg.Prefer, cfg.SocketPath)
	if err != nil {
		fmt.Printf("    %s runtime not detected\n", errorStyle.Render("[✗]"))
		fmt.Printf("      %s\n", dimStyle.Render(err.Error()))
		fmt.Printf("      %s\n", dimStyle.Render("install docker or podman to continue"))
		fmt.Println()
		return nil, false
	}

	fmt.Printf("    %s %s detected\n", successStyle.Render("[✓]"), valueStyle.Render(info.GetRuntimeName()))
	fmt.Printf("      %s %s\n", dimStyle.Render("version:"), dimStyle.Render(info.Version))
	fmt.Printf("      %s %s\n", dimStyle.Render("socket:"), dimStyle.Render(info.SocketPath))

	client, err := docker.NewClientWithRuntime(info)
	if err != nil {
		fmt.Printf("    %s runtime daemon not responding\n", errorStyle.Render("[✗]"))
		fmt.Printf("      %s\n", dimStyle.Render(err.Error()))
		fmt.Println()
		return nil, false
	}

	if _, err := client.ServerVersion(ctx); err != nil {
		fmt.Printf("    %s runtime daemon not responding\n", errorStyle.Render("[✗]"))
		fmt.Printf("      %s\n", dimStyle.Render(err.Error()))
		fmt.Println()
		client.Close()
		return nil, false
	}
	fmt.Printf("    %s daemon running\n", successStyle.Render("[✓]"))

	helper := cfg.HelperImage
	if helper == "" {
		helper = command.DefaultHelperImage
	}
	fmt.Printf("      %s %s\n", dimStyle.Render("helper image:"), dimStyle.Render(helper))
	fmt.Println()

	return client, true
}

func checkGlobalConfig(env *environment) bool {
	fmt.Println(labelStyle.Render("  global configuration"))

	if !env.configManager.Exists() {
		fmt.Printf("    %s %s missing\n", errorStyle.Render("[✗]"), dimStyle.Render(env.configManager.Path()))
		fmt.Printf("      %s\n", dimStyle.Render("run 'abackup config init --backup-root <dir>'"))
		fmt.Println()
		return false
	}
	fmt.Printf("    %s %s exists\n", successStyle.Render("[✓]"), dimStyle.Render(env.configManager.Path()))

	if err := env.configManager.Validate(); err != nil {
		fmt.Printf("    %s invalid: %s\n", errorStyle.Render("[✗]"), err)
		fmt.Println()
		return false
	}
	fmt.Printf("    %s valid\n", successStyle.Render("[✓]"))

	if env.cfg.Notifications.Slack.APIURL == "" {
		fmt.Printf("    %s %s\n", errorStyle.Render("[!]"), dimStyle.Render("no slack webhook, notifications go to the log"))
	}
	fmt.Println()
	return true
}

func checkBackupRoot(root string) bool {
	fmt.Println(labelStyle.Render("  backup root"))

	if root == "" {
		fmt.Printf("    %s backup_root not set\n", errorStyle.Render("[✗]"))
		fmt.Println()
		return false
	}

	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		fmt.Printf("    %s %s missing\n", errorStyle.Render("[!]"), dimStyle.Render(root))
		fmt.Printf("      %s\n", dimStyle.Render("it will be created on the first backup"))
		fmt.Println()
		return true
	}
	if err != nil || !info.IsDir() {
		fmt.Printf("    %s %s is not a usable directory\n", errorStyle.Render("[✗]"), dimStyle.Render(root))
		fmt.Println()
		return false
	}
	fmt.Printf("    %s %s exists\n", successStyle.Render("[✓]"), dimStyle.Render(root))

	if err := unix.Access(root, unix.W_OK); err != nil {
		fmt.Printf("    %s not writable\n", errorStyle.Render("[✗]"))
		fmt.Println()
		return false
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(root, &stat); err == nil {
		free := int64(stat.Bavail) * int64(stat.Bsize)
		if free < minFreeBytes {
			fmt.Printf("    %s only %s free\n", errorStyle.Render("[!]"), utils.FormatBytes(free))
		} else {
			fmt.Printf("    %s %s free\n", successStyle.Render("[✓]"), utils.FormatBytes(free))
		}
	}

	fmt.Println()
	return true
}

func checkProject() (*models.ProjectConfig, bool) {
	fmt.Println(labelStyle.Render("  project"))

	proj, path, err := project.LoadConfig(projectConfigPath)
	if err != nil {
		fmt.Printf("    %s %s\n", errorStyle.Render("[✗]"), err)
		fmt.Println()
		return nil, false
	}

	fmt.Printf("    %s %s %s\n", successStyle.Render("[✓]"), valueStyle.Render(proj.Name), dimStyle.Render(path))
	fmt.Println()
	return proj, true
}

func checkContainers(ctx context.Context, client *docker.Client, proj *models.ProjectConfig) bool {
	fmt.Println(labelStyle.Render("  containers"))

	allGood := true
	for _, c := range proj.Containers {
		state, err := client.GetContainerState(ctx, c.Name)
		switch {
		case err != nil:
			fmt.Printf("    %s %s\n", errorStyle.Render("[✗]"), valueStyle.Render(c.Name))
			fmt.Printf("      %s\n", dimStyle.Render(err.Error()))
			allGood = false
		case state.Status == docker.StatusNotFound:
			fmt.Printf("    %s %s not found\n", errorStyle.Render("[✗]"), valueStyle.Render(c.Name))
			allGood = false
		case !state.Ready() && len(c.Databases) > 0:
			fmt.Printf("    %s %s %s\n", errorStyle.Render("[✗]"), valueStyle.Render(c.Name), dimStyle.Render(state.Status+" "+state.Health))
			fmt.Printf("      %s\n", dimStyle.Render("database dumps need a running container"))
			allGood = false
		default:
			fmt.Printf("    %s %s %s\n", successStyle.Render("[✓]"), valueStyle.Render(c.Name), dimStyle.Render(state.Status))
		}
	}

	fmt.Println()
	return allGood
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
