package backup

import (
	"github.com/aelpxy/abackup/internal/backupfile"
	"github.com/aelpxy/abackup/internal/driver"
	"github.com/aelpxy/abackup/pkg/models"
)

// ArtifactGroup is the set of artifacts one database or directory has on
// disk, oldest first.
type ArtifactGroup struct {
	Container string
	Source    string
	Dir       string
	Entries   []backupfile.Entry
}

// Artifacts lists what a restore of the container could pick from.
func (m *Manager) Artifacts(c models.Container) ([]ArtifactGroup, error) {
	target := driver.Target{
		Container: c.Name,
		Dir:       m.ContainerDir(c.Name),
		Naming:    c.Backup.Naming,
	}

	var groups []ArtifactGroup
	for _, step := range m.steps(driver.OpRestore, c, target, "") {
		if step.err != nil {
			return nil, step.err
		}
		file := step.File()
		entries, err := backupfile.Find(file.Dir(), file.Prefix(), file.Extension())
		if err != nil {
			return nil, err
		}
		groups = append(groups, ArtifactGroup{
			Container: c.Name,
			Source:    sourceName(step.Step),
			Dir:       file.Dir(),
			Entries:   entries,
		})
	}
	return groups, nil
}

func sourceName(step driver.Step) string {
	switch s := step.(type) {
	case *driver.DatabaseCommand:
		db := s.Database()
		return string(db.Driver) + " " + db.Name
	case *driver.DirectoryCommand:
		return s.Directory()
	default:
		return step.String()
	}
}

func (m *Manager) History() *History {
	return m.history
}
