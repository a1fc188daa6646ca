package schedule

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aelpxy/abackup/internal/command/commandtest"
	"github.com/aelpxy/abackup/pkg/models"
	"github.com/kballard/go-shellquote"
	. "github.com/smartystreets/goconvey/convey"
)

func TestJobs(t *testing.T) {
	Convey("Given containers with auto backups", t, func() {
		containers := []models.Container{
			{Name: "app", Backup: models.BackupConfig{AutoBackup: []models.AutoBackup{{}, {Frequency: "30 2 * * 0", Notify: "always"}}}},
			{Name: "cache"},
			{Name: "db", Backup: models.BackupConfig{
				AutoBackup:   []models.AutoBackup{{Frequency: "@hourly"}},
				Healthchecks: &models.HealthcheckConfig{UUID: "u"},
			}},
		}

		jobs := Jobs("shop", containers)

		Convey("Each entry becomes a job with defaults filled in", func() {
			So(jobs, ShouldHaveLength, 3)
			So(jobs[0], ShouldResemble, Job{Project: "shop", Container: "app", Frequency: DefaultFrequency, Notify: "auto"})
			So(jobs[1].Frequency, ShouldEqual, "30 2 * * 0")
			So(jobs[1].Notify, ShouldEqual, "always")
			So(jobs[2].Healthchecks, ShouldBeTrue)
		})

		Convey("Frequencies are validated as standard cron specs", func() {
			So(Validate("0 0 * * *"), ShouldBeNil)
			So(Validate("@daily"), ShouldBeNil)
			So(Validate("0 0 * *"), ShouldNotBeNil)
			So(Validate("every day"), ShouldNotBeNil)
		})

		Convey("The next run is computed from the frequency", func() {
			next, err := Next("30 2 * * *", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
			So(err, ShouldBeNil)
			So(next, ShouldEqual, time.Date(2024, 3, 2, 2, 30, 0, 0, time.UTC))
		})
	})
}

func TestCrontab(t *testing.T) {
	Convey("Given a crontab renderer", t, func() {
		c := Crontab{ConfigPath: "/etc/abackup/conf.toml", ProjectConfig: "/srv/shop/project.toml"}
		job := Job{Project: "shop", Container: "app", Frequency: "0 0 * * *", Notify: "auto", Healthchecks: true}

		Convey("A job becomes a tagged line calling the backup command", func() {
			line, err := c.Line(job)
			So(err, ShouldBeNil)

			parts := strings.SplitN(line, "\n", 2)
			So(parts[0], ShouldEqual, "# abackup(shop): app")
			So(parts[1], ShouldStartWith, "0 0 * * * ")

			words, err := shellquote.Split(strings.TrimPrefix(parts[1], "0 0 * * * "))
			So(err, ShouldBeNil)
			So(words, ShouldResemble, []string{
				"abackup", "--config", "/etc/abackup/conf.toml", "--project-config", "/srv/shop/project.toml",
				"backup", "--container", "app", "--notify", "auto", "--healthchecks",
			})
		})

		Convey("An invalid frequency is rejected", func() {
			job.Frequency = "sometimes"
			_, err := c.Line(job)
			So(err, ShouldNotBeNil)
		})

		Convey("Merging replaces only this project's entries", func() {
			existing := strings.Join([]string{
				"MAILTO=ops@example.com",
				"# abackup(shop): app",
				"15 1 * * * abackup backup --container app",
				"# abackup(blog): web",
				"0 3 * * * abackup backup --container web",
				"",
			}, "\n")

			merged, err := c.Merge(existing, "shop", []Job{job})
			So(err, ShouldBeNil)
			So(merged, ShouldContainSubstring, "MAILTO=ops@example.com")
			So(merged, ShouldContainSubstring, "# abackup(blog): web\n0 3 * * *")
			So(merged, ShouldNotContainSubstring, "15 1 * * *")
			So(strings.Count(merged, "# abackup(shop): app"), ShouldEqual, 1)
		})

		Convey("Install reads, merges and writes the user crontab", func() {
			exec := commandtest.New()
			exec.Handle(commandtest.Contains("crontab -l"), func(_ []string, _ []byte, stdout, _ io.Writer) int {
				io.WriteString(stdout, "# abackup(shop): app\n1 1 * * * old\n")
				return 0
			})
			c.Executor = exec

			merged, err := c.Install(context.Background(), "shop", []Job{job})
			So(err, ShouldBeNil)
			So(merged, ShouldNotContainSubstring, "old")

			calls := exec.Calls()
			So(calls, ShouldHaveLength, 2)
			So(calls[1].Args, ShouldResemble, []string{"crontab", "-"})
			So(string(calls[1].Stdin), ShouldEqual, merged)
		})

		Convey("A missing crontab counts as empty", func() {
			exec := commandtest.New().Fail("crontab -l", 1)
			c.Executor = exec
			merged, err := c.Install(context.Background(), "shop", []Job{job})
			So(err, ShouldBeNil)
			So(merged, ShouldStartWith, "# abackup(shop): app\n")
		})
	})
}

func TestScheduler(t *testing.T) {
	Convey("Given a scheduler", t, func() {
		s := NewScheduler(nil)

		Convey("Valid jobs are registered", func() {
			err := s.AddJob(context.Background(), Job{Container: "app", Frequency: "@every 1h"}, func(context.Context, Job) error { return nil })
			So(err, ShouldBeNil)
			So(s.Entries(), ShouldHaveLength, 1)
		})

		Convey("Invalid frequencies are refused", func() {
			err := s.AddJob(context.Background(), Job{Container: "app", Frequency: "nope"}, func(context.Context, Job) error { return nil })
			So(err, ShouldNotBeNil)
			So(s.Entries(), ShouldBeEmpty)
		})

		Convey("Start and Stop do not block", func() {
			s.Start()
			So(func() { s.Stop() }, ShouldNotPanic)
		})
	})
}
