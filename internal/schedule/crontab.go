package schedule

import (
	"context"
	"fmt"
	"strings"

	"github.com/aelpxy/abackup/internal/command"
	"github.com/kballard/go-shellquote"
)

const commentTag = "abackup"

// Crontab renders jobs as crontab lines that call back into the binary.
type Crontab struct {
	Binary     string
	ConfigPath string
	// ProjectConfig is the absolute path of the project file.
	ProjectConfig string
	Executor      command.Executor
}

func Comment(job Job) string {
	return fmt.Sprintf("# %s(%s): %s", commentTag, job.Project, job.Container)
}

func (c Crontab) binary() string {
	if c.Binary == "" {
		return "abackup"
	}
	return c.Binary
}

func (c Crontab) Command(job Job) string {
	args := []string{c.binary()}
	if c.ConfigPath != "" {
		args = append(args, "--config", c.ConfigPath)
	}
	args = append(args, "--project-config", c.ProjectConfig, "backup", "--container", job.Container, "--notify", job.Notify)
	if job.Healthchecks {
		args = append(args, "--healthchecks")
	}
	return shellquote.Join(args...)
}

func (c Crontab) Line(job Job) (string, error) {
	if err := Validate(job.Frequency); err != nil {
		return "", fmt.Errorf("%s: %w", job.Container, err)
	}
	return fmt.Sprintf("%s\n%s %s", Comment(job), job.Frequency, c.Command(job)), nil
}

func (c Crontab) Render(jobs []Job) (string, error) {
	var b strings.Builder
	for _, job := range jobs {
		line, err := c.Line(job)
		if err != nil {
			return "", err
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// Merge replaces the entries of project in an existing crontab with jobs and
// keeps everything else untouched.
func (c Crontab) Merge(existing, project string, jobs []Job) (string, error) {
	rendered, err := c.Render(jobs)
	if err != nil {
		return "", err
	}

	prefix := fmt.Sprintf("# %s(%s): ", commentTag, project)
	lines := strings.Split(strings.TrimRight(existing, "\n"), "\n")

	var kept []string
	for i := 0; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], prefix) {
			i++
			continue
		}
		if lines[i] != "" || len(kept) > 0 {
			kept = append(kept, lines[i])
		}
	}

	out := strings.Join(kept, "\n")
	if out != "" {
		out += "\n"
	}
	return out + rendered, nil
}

// Install merges jobs into the current user's crontab.
func (c Crontab) Install(ctx context.Context, project string, jobs []Job) (string, error) {
	list := command.FromArgs([]string{"crontab", "-l"}, command.WithExecutor(c.Executor), command.WithTextOutput())
	result, err := list.RunWithResult(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read crontab: %w", err)
	}

	existing := ""
	if result.Success() {
		existing = result.StdoutString()
	}

	merged, err := c.Merge(existing, project, jobs)
	if err != nil {
		return "", err
	}

	write := command.FromArgs([]string{"crontab", "-"}, command.WithExecutor(c.Executor), command.WithInput(merged))
	result, err = write.RunWithResult(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to write crontab: %w", err)
	}
	if !result.Success() {
		return "", fmt.Errorf("failed to write crontab: %s", strings.TrimSpace(result.StderrString()))
	}

	return merged, nil
}
