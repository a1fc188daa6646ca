package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/aelpxy/abackup/internal/backupfile"
	"github.com/aelpxy/abackup/internal/command/commandtest"
	"github.com/aelpxy/abackup/internal/driver"
	"github.com/aelpxy/abackup/internal/notify"
	"github.com/aelpxy/abackup/pkg/models"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingNotifier struct {
	messages []notify.Message
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.messages = append(n.messages, msg)
	return nil
}

type recordingHealth struct {
	events []string
}

func (h *recordingHealth) Start(_ context.Context, container string) {
	h.events = append(h.events, "start "+container)
}

func (h *recordingHealth) Success(_ context.Context, container string) {
	h.events = append(h.events, "success "+container)
}

func (h *recordingHealth) Failure(_ context.Context, container, message string) {
	h.events = append(h.events, "failure "+container+": "+message)
}

// steppingClock advances by a minute on every reading after the first.
func steppingClock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(time.Minute)
		return now
	}
}

func appContainer() models.Container {
	return models.Container{
		Name:        "app",
		Directories: []string{"/data/app"},
		Databases: []models.Database{
			{Name: "appdb", Driver: models.DriverMySQL, User: "root", Password: "secret"},
		},
		Backup: models.BackupConfig{VersionCount: 2},
	}
}

type fixture struct {
	root     string
	exec     *commandtest.Executor
	notifier *recordingNotifier
	health   *recordingHealth
	history  *History
	project  *models.ProjectConfig
}

func newFixture(t *testing.T, containers ...models.Container) *fixture {
	root := t.TempDir()
	project := &models.ProjectConfig{Name: "shop", Containers: containers}
	return &fixture{
		root:     root,
		exec:     commandtest.SimulateHost(commandtest.New()),
		notifier: &recordingNotifier{},
		health:   &recordingHealth{},
		history:  NewHistory(root, project.Name),
		project:  project,
	}
}

func (f *fixture) manager(t *testing.T, mode notify.Mode) *Manager {
	m, err := NewManager(Options{
		Root:    f.root,
		Project: f.project,
		Builder: &driver.Builder{
			Executor: f.exec,
			TempRoot: filepath.Join(t.TempDir(), "tmp"),
			Now:      steppingClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)),
		},
		Permissions: Permissions{DirMode: 0750, FileMode: 0600},
		Notifier:    f.notifier,
		Mode:        mode,
		Health:      f.health,
		History:     f.history,
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func artifacts(dir, prefix, ext string) []string {
	entries, _ := backupfile.Find(dir, prefix, ext)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

func TestBackup(t *testing.T) {
	ctx := context.Background()

	Convey("Given the app container with a database and a directory", t, func() {
		f := newFixture(t, appContainer())
		m := f.manager(t, notify.ModeAuto)
		dir := m.ContainerDir("app")

		Convey("Backups rotate down to the version count", func() {
			for i := 0; i < 3; i++ {
				reports, err := m.Backup(ctx, f.project.Containers)
				So(err, ShouldBeNil)
				So(Succeeded(reports), ShouldBeTrue)
			}

			dumps := artifacts(dir, "appdb", "sql.gz")
			tars := artifacts(dir, "app", "tar.gz")
			So(dumps, ShouldHaveLength, 2)
			So(tars, ShouldHaveLength, 2)

			So(dumps[0], ShouldStartWith, "appdb_2024")
			So(tars[0], ShouldStartWith, "app_2024")

			all, err := os.ReadDir(dir)
			So(err, ShouldBeNil)
			So(all, ShouldHaveLength, 4)
		})

		Convey("The second run leaves both versions and the third drops the oldest", func() {
			first, err := m.Backup(ctx, f.project.Containers)
			So(err, ShouldBeNil)
			_, err = m.Backup(ctx, f.project.Containers)
			So(err, ShouldBeNil)
			So(artifacts(dir, "appdb", "sql.gz"), ShouldHaveLength, 2)

			third, err := m.Backup(ctx, f.project.Containers)
			So(err, ShouldBeNil)
			So(third[0].Removed, ShouldResemble, first[0].Artifacts)
			for _, path := range first[0].Artifacts {
				_, err := os.Stat(path)
				So(os.IsNotExist(err), ShouldBeTrue)
			}
		})

		Convey("A report lists the commands and artifacts", func() {
			reports, err := m.Backup(ctx, f.project.Containers)
			So(err, ShouldBeNil)
			So(reports, ShouldHaveLength, 1)

			report := reports[0]
			So(report.Successful, ShouldResemble, []string{"mysqldump appdb", "tar /data/app"})
			So(report.Failed, ShouldBeEmpty)
			So(report.Artifacts, ShouldHaveLength, 2)
			So(report.Finished.After(report.Started), ShouldBeTrue)
		})

		Convey("Artifacts get the configured file mode", func() {
			reports, err := m.Backup(ctx, f.project.Containers)
			So(err, ShouldBeNil)
			for _, path := range reports[0].Artifacts {
				info, err := os.Stat(path)
				So(err, ShouldBeNil)
				So(info.Mode().Perm(), ShouldEqual, os.FileMode(0600))
			}

			info, err := os.Stat(dir)
			So(err, ShouldBeNil)
			So(info.Mode().Perm(), ShouldEqual, os.FileMode(0750))
		})

		Convey("A successful run does not notify in auto mode", func() {
			_, err := m.Backup(ctx, f.project.Containers)
			So(err, ShouldBeNil)
			So(f.notifier.messages, ShouldBeEmpty)
		})

		Convey("A successful run notifies in always mode", func() {
			m := f.manager(t, notify.ModeAlways)
			_, err := m.Backup(ctx, f.project.Containers)
			So(err, ShouldBeNil)
			So(f.notifier.messages, ShouldHaveLength, 1)
			So(f.notifier.messages[0].Title, ShouldEqual, "app Backed Up")
			So(f.notifier.messages[0].Severity, ShouldEqual, notify.SeverityGood)
		})

		Convey("A failing dump is reported and notified", func() {
			f.exec.Fail("mysqldump", 2)
			reports, err := m.Backup(ctx, f.project.Containers)
			So(err, ShouldBeNil)
			So(Succeeded(reports), ShouldBeFalse)
			So(reports[0].Failed, ShouldResemble, []string{"mysqldump appdb"})
			So(reports[0].Successful, ShouldResemble, []string{"tar /data/app"})

			So(f.notifier.messages, ShouldHaveLength, 1)
			So(f.notifier.messages[0].Title, ShouldEqual, "Failed to Backup app")
		})

		Convey("Runs are recorded in the history", func() {
			f.exec.Fail("mysqldump", 2)
			_, err := m.Backup(ctx, f.project.Containers)
			So(err, ShouldBeNil)

			history := NewHistory(f.root, "shop")
			So(history.Load(), ShouldBeNil)
			runs := history.List("app")
			So(runs, ShouldHaveLength, 1)
			So(runs[0].Status, ShouldEqual, StatusFailed)
			So(runs[0].Operation, ShouldEqual, "backup")
			So(runs[0].ID, ShouldNotBeEmpty)
			So(runs[0].Artifacts, ShouldHaveLength, 1)
			So(runs[0].Artifacts[0].SizeBytes, ShouldBeGreaterThan, 0)
		})
	})

	Convey("Given a container whose first pre-command fails", t, func() {
		c := appContainer()
		c.Backup.PreCommands = []models.CommandConfig{{Command: "precheck --strict"}, {Command: "echo second"}}
		c.Backup.PostCommands = []models.CommandConfig{{Command: "echo after"}}
		f := newFixture(t, c)
		f.exec.Fail("precheck", 1)
		m := f.manager(t, notify.ModeAuto)

		reports, err := m.Backup(ctx, f.project.Containers)

		Convey("Nothing else runs for that container", func() {
			So(err, ShouldBeNil)
			So(f.exec.CountContaining("echo second"), ShouldEqual, 0)
			So(f.exec.CountContaining("mysqldump"), ShouldEqual, 0)
			So(f.exec.CountContaining("docker run"), ShouldEqual, 0)
			So(f.exec.CountContaining("echo after"), ShouldEqual, 0)
		})

		Convey("The container is reported as failed", func() {
			So(reports[0].Skipped, ShouldBeTrue)
			So(reports[0].Failed, ShouldResemble, []string{"precheck --strict"})
			So(reports[0].SkipReason(), ShouldEqual, "precheck --strict")
			So(Succeeded(reports), ShouldBeFalse)
			So(f.notifier.messages, ShouldHaveLength, 1)
		})
	})

	Convey("Given post-commands where the second fails", t, func() {
		c := appContainer()
		c.Backup.PostCommands = []models.CommandConfig{
			{Command: "post-one"}, {Command: "post-two"}, {Command: "post-three"},
		}
		f := newFixture(t, c)
		f.exec.Fail("post-two", 1)
		m := f.manager(t, notify.ModeAuto)

		reports, err := m.Backup(ctx, f.project.Containers)
		So(err, ShouldBeNil)

		Convey("The remaining post-commands are not run", func() {
			So(f.exec.CountContaining("post-one"), ShouldEqual, 1)
			So(f.exec.CountContaining("post-three"), ShouldEqual, 0)
			So(reports[0].Failed, ShouldResemble, []string{"post-two"})
			So(reports[0].Artifacts, ShouldHaveLength, 2)
		})
	})

	Convey("Given a container with healthchecks", t, func() {
		c := appContainer()
		c.Backup.Healthchecks = &models.HealthcheckConfig{UUID: "abc"}
		other := models.Container{Name: "web", Directories: []string{"/srv/www"}}
		f := newFixture(t, c, other)
		m := f.manager(t, notify.ModeAuto)

		Convey("Start and success are reported for it alone", func() {
			_, err := m.Backup(ctx, f.project.Containers)
			So(err, ShouldBeNil)
			So(f.health.events, ShouldResemble, []string{"start app", "success app"})
		})

		Convey("A failure carries the failed commands", func() {
			f.exec.Fail("mysqldump", 1)
			_, err := m.Backup(ctx, f.project.Containers)
			So(err, ShouldBeNil)
			So(f.health.events[1], ShouldEqual, "failure app: Failed commands: mysqldump appdb")
		})
	})

	Convey("Given verification is enabled", t, func() {
		c := appContainer()
		c.Backup.Verify = true
		f := newFixture(t, c)
		m := f.manager(t, notify.ModeAuto)

		Convey("Intact artifacts pass", func() {
			reports, err := m.Backup(ctx, f.project.Containers)
			So(err, ShouldBeNil)
			So(reports[0].OK(), ShouldBeTrue)
		})

		Convey("An empty dump fails verification", func() {
			f.exec.Output("mysqldump", "")
			reports, err := m.Backup(ctx, f.project.Containers)
			So(err, ShouldBeNil)
			So(reports[0].Failed, ShouldHaveLength, 1)
			So(reports[0].Failed[0], ShouldStartWith, "verify appdb_")
		})
	})

	Convey("Given a backup root that cannot be written", t, func() {
		f := newFixture(t, appContainer())
		blocker := filepath.Join(f.root, "shop")
		So(os.WriteFile(blocker, []byte("not a directory"), 0644), ShouldBeNil)
		m := f.manager(t, notify.ModeAuto)

		reports, err := m.Backup(ctx, f.project.Containers)

		Convey("The setup error is returned and the container fails", func() {
			So(err, ShouldNotBeNil)
			So(reports[0].OK(), ShouldBeFalse)
			So(f.exec.Calls(), ShouldBeEmpty)
		})
	})

	Convey("Given another run holds the container lock", t, func() {
		f := newFixture(t, appContainer())
		locks := NewLockManager(f.root, f.project.Name)
		So(locks.TryLock("app", 0), ShouldBeNil)

		m := f.manager(t, notify.ModeAuto)
		m.locks = locks

		reports, err := m.Backup(ctx, f.project.Containers)

		Convey("The container is skipped without running anything", func() {
			So(errors.Is(err, ErrLocked), ShouldBeTrue)
			So(reports[0].Skipped, ShouldBeTrue)
			So(reports[0].Failed, ShouldResemble, []string{"lock app"})
			So(reports[0].SkipReason(), ShouldEqual, "lock app")
			So(f.exec.Calls(), ShouldBeEmpty)
		})

		Convey("Once released the next run proceeds and leaves the lock free", func() {
			locks.Unlock("app")
			reports, err := m.Backup(ctx, f.project.Containers)
			So(err, ShouldBeNil)
			So(reports[0].OK(), ShouldBeTrue)
			So(reports[0].SkipReason(), ShouldBeEmpty)
			So(locks.IsLocked("app"), ShouldBeFalse)
		})
	})
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	Convey("Given a container that has been backed up twice", t, func() {
		c := appContainer()
		c.Restore.PreCommands = []models.CommandConfig{{Command: "stop-app"}}
		f := newFixture(t, c)
		m := f.manager(t, notify.ModeAuto)

		first, err := m.Backup(ctx, f.project.Containers)
		So(err, ShouldBeNil)
		_, err = m.Backup(ctx, f.project.Containers)
		So(err, ShouldBeNil)
		dir := m.ContainerDir("app")

		Convey("Restoring everything feeds the youngest dump and extracts the youngest archive", func() {
			reports, err := m.Restore(ctx, f.project.Containers, RestoreOptions{})
			So(err, ShouldBeNil)
			So(reports[0].OK(), ShouldBeTrue)
			So(reports[0].Successful, ShouldResemble, []string{"stop-app", "mysql appdb", "tar /data/app"})

			var load commandtest.Call
			for _, call := range f.exec.Calls() {
				if call.Args[0] == "docker" && call.Args[1] == "exec" {
					load = call
				}
			}
			So(string(load.Stdin), ShouldEqual, commandtest.DumpOutput("mysqldump"))
			So(f.exec.CountContaining("tar -xzf"), ShouldEqual, 1)

			So(artifacts(dir, "appdb", "sql.gz"), ShouldHaveLength, 2)
			So(artifacts(dir, "appdb", "sql"), ShouldBeEmpty)
		})

		Convey("A target limits the restore to one database", func() {
			reports, err := m.Restore(ctx, f.project.Containers, RestoreOptions{Target: "appdb"})
			So(err, ShouldBeNil)
			So(reports[0].Successful, ShouldResemble, []string{"stop-app", "mysql appdb"})
			So(f.exec.CountContaining("tar -x"), ShouldEqual, 0)
		})

		Convey("An explicit file restores that artifact", func() {
			name := filepath.Base(first[0].Artifacts[0])
			reports, err := m.Restore(ctx, f.project.Containers, RestoreOptions{Target: "appdb", FileName: name})
			So(err, ShouldBeNil)
			So(reports[0].OK(), ShouldBeTrue)
			So(f.exec.CountContaining("gzip --decompress --force "+first[0].Artifacts[0]), ShouldEqual, 1)
		})

		Convey("A missing file is a failure, not an error", func() {
			reports, err := m.Restore(ctx, f.project.Containers, RestoreOptions{Target: "appdb", FileName: "appdb_19990101_000000.sql.gz"})
			So(err, ShouldBeNil)
			So(reports[0].Failed, ShouldResemble, []string{"mysql appdb"})
		})

		Convey("A file without a target is rejected", func() {
			_, err := m.Restore(ctx, f.project.Containers, RestoreOptions{FileName: "x.sql.gz"})
			So(errors.Is(err, ErrFileWithoutTarget), ShouldBeTrue)
		})

		Convey("Restores are not sent to healthchecks", func() {
			_, err := m.Restore(ctx, f.project.Containers, RestoreOptions{})
			So(err, ShouldBeNil)
			So(f.health.events, ShouldBeEmpty)
		})
	})
}

func TestArtifacts(t *testing.T) {
	Convey("Given a container with two backups", t, func() {
		f := newFixture(t, appContainer())
		m := f.manager(t, notify.ModeAuto)
		for i := 0; i < 2; i++ {
			_, err := m.Backup(context.Background(), f.project.Containers)
			So(err, ShouldBeNil)
		}

		groups, err := m.Artifacts(f.project.Containers[0])
		So(err, ShouldBeNil)
		So(groups, ShouldHaveLength, 2)

		So(groups[0].Source, ShouldEqual, "mysql appdb")
		So(groups[0].Entries, ShouldHaveLength, 2)
		So(groups[0].Entries[0].Name, ShouldStartWith, "appdb_")
		So(groups[1].Source, ShouldEqual, "/data/app")
		So(groups[1].Entries, ShouldHaveLength, 2)
	})

	Convey("Given a container that was never backed up", t, func() {
		f := newFixture(t, appContainer())
		m := f.manager(t, notify.ModeAuto)

		groups, err := m.Artifacts(f.project.Containers[0])
		So(err, ShouldBeNil)
		So(groups[0].Entries, ShouldBeEmpty)
	})
}
