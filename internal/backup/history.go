package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aelpxy/abackup/internal/utils"
	"github.com/lucsky/cuid"
)

const (
	HistoryFileName   = "history.json"
	DefaultMaxHistory = 500
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

type Artifact struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Removed   bool   `json:"removed,omitempty"`
}

// Run is one container's pass as recorded in the history file.
type Run struct {
	ID         string     `json:"id"`
	Project    string     `json:"project"`
	Container  string     `json:"container"`
	Operation  string     `json:"operation"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Successful []string   `json:"successful"`
	Failed     []string   `json:"failed"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
}

func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// History is the per-project run log kept next to the artifacts.
type History struct {
	Runs []Run `json:"runs"`
	Max  int   `json:"-"`
	path string
}

func NewHistory(root, project string) *History {
	return &History{
		Runs: []Run{},
		Max:  DefaultMaxHistory,
		path: filepath.Join(root, project, HistoryFileName),
	}
}

func (h *History) Path() string {
	return h.path
}

func (h *History) Load() error {
	data, err := os.ReadFile(h.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	if err := json.Unmarshal(data, h); err != nil {
		return fmt.Errorf("failed to parse history: %w", err)
	}
	return nil
}

func (h *History) Save() error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := utils.AtomicWriteFile(h.path, data, 0640); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// Add records a run, dropping the oldest entries beyond Max.
func (h *History) Add(run Run) error {
	if run.ID == "" {
		run.ID = cuid.New()
	}
	h.Runs = append(h.Runs, run)
	if h.Max > 0 && len(h.Runs) > h.Max {
		h.Runs = h.Runs[len(h.Runs)-h.Max:]
	}
	return h.Save()
}

func (h *History) Get(id string) (*Run, error) {
	for i := range h.Runs {
		if h.Runs[i].ID == id {
			return &h.Runs[i], nil
		}
	}
	return nil, fmt.Errorf("run not found: %s", id)
}

// List returns runs newest first, optionally for one container.
func (h *History) List(container string) []Run {
	var runs []Run
	for _, run := range h.Runs {
		if container == "" || run.Container == container {
			runs = append(runs, run)
		}
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

func newRun(project string, report ContainerReport) Run {
	run := Run{
		Project:    project,
		Container:  report.Container,
		Operation:  string(report.Operation),
		Status:     StatusCompleted,
		StartedAt:  report.Started,
		FinishedAt: report.Finished,
		Successful: report.Successful,
		Failed:     report.Failed,
	}
	switch {
	case report.Skipped:
		run.Status = StatusSkipped
	case !report.OK():
		run.Status = StatusFailed
	}

	for _, path := range report.Artifacts {
		artifact := Artifact{Path: path}
		if info, err := os.Stat(path); err == nil {
			artifact.SizeBytes = info.Size()
		}
		run.Artifacts = append(run.Artifacts, artifact)
	}
	for _, path := range report.Removed {
		run.Artifacts = append(run.Artifacts, Artifact{Path: path, Removed: true})
	}
	return run
}
