package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aelpxy/abackup/internal/backup"
	"github.com/aelpxy/abackup/internal/notify"
	"github.com/aelpxy/abackup/internal/utils"
	"github.com/aelpxy/abackup/pkg/models"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var (
	listContainers []string
	listHistory    bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups",
	Long:  "List the backups on disk for every container in the project, or the recorded runs with --history",
	Args:  cobra.NoArgs,
	Run:   runList,
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().
					Foreground(lipgloss.Color("86")).
					Bold(true).
					Align(lipgloss.Center)
			}
			return lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
		}).
		Headers(headers...)
}

func runList(cmd *cobra.Command, args []string) {
	env := loadEnvironment(true)
	defer env.close()

	containers := env.containers(listContainers)
	manager := env.manager(notify.ModeNever, false, containers)

	if listHistory {
		listRuns(manager.History(), containers)
		return
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("==> backups for project: %s", env.project.Name)))
	fmt.Println()

	rows := [][]string{}
	var totalSize int64
	for _, c := range containers {
		groups, err := manager.Artifacts(c)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", errorStyle.Render("[error]"), c.Name, err)
			continue
		}
		for _, group := range groups {
			if len(group.Entries) == 0 {
				rows = append(rows, []string{c.Name, group.Source, dimStyle.Render("none"), "", ""})
				continue
			}
			for i := len(group.Entries) - 1; i >= 0; i-- {
				entry := group.Entries[i]
				totalSize += entry.Size
				rows = append(rows, []string{
					c.Name,
					group.Source,
					entry.Name,
					entry.ModTime.Format("2006-01-02 15:04"),
					utils.FormatBytes(entry.Size),
				})
			}
		}
	}

	if len(rows) == 0 {
		fmt.Println(dimStyle.Render("  no databases or directories configured"))
		fmt.Println()
		return
	}

	fmt.Println(newTable("container", "source", "file", "modified", "size").Rows(rows...))
	fmt.Println()
	fmt.Println(dimStyle.Render(fmt.Sprintf("  total: %s", utils.FormatBytes(totalSize))))
	fmt.Println()
}

func listRuns(history *backup.History, containers []models.Container) {
	fmt.Println(titleStyle.Render("==> recorded runs"))
	fmt.Println()

	rows := [][]string{}
	for _, c := range containers {
		for _, run := range history.List(c.Name) {
			statusColor := "10"
			switch run.Status {
			case backup.StatusFailed:
				statusColor = "9"
			case backup.StatusSkipped:
				statusColor = "11"
			}
			status := lipgloss.NewStyle().Foreground(lipgloss.Color(statusColor)).Render(run.Status)

			rows = append(rows, []string{
				run.ID,
				run.Container,
				run.Operation,
				status,
				run.StartedAt.Format("2006-01-02 15:04"),
				run.Duration().Round(time.Second).String(),
				utils.TruncateString(strings.Join(run.Failed, ", "), 40),
			})
		}
	}

	if len(rows) == 0 {
		fmt.Println(dimStyle.Render("  no runs recorded"))
		fmt.Println()
		return
	}

	fmt.Println(newTable("id", "container", "operation", "status", "started", "duration", "failed").Rows(rows...))
	fmt.Println()
	fmt.Println(dimStyle.Render(fmt.Sprintf("  history: %s", history.Path())))
	fmt.Println()
}

func init() {
	listCmd.Flags().StringSliceVarP(&listContainers, "container", "c", nil, "only list these containers")
	listCmd.Flags().BoolVar(&listHistory, "history", false, "show recorded runs instead of files")
	rootCmd.AddCommand(listCmd)
}
