package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestConfigManager(t *testing.T) {
	Convey("Given a config directory", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, FileName)

		Convey("A missing file yields defaults that fail validation", func() {
			cm, err := NewConfigManager(path)
			So(err, ShouldBeNil)
			So(cm.Exists(), ShouldBeFalse)

			cfg := cm.GetConfig()
			So(cfg.Docker.HelperImage, ShouldEqual, "busybox")
			So(cfg.Permissions.Directories, ShouldEqual, "0750")
			So(cm.LogFile(), ShouldEqual, filepath.Join(dir, "logs", LogFileName))
			So(errors.Is(cm.Validate(), ErrNoBackupRoot), ShouldBeTrue)
		})

		Convey("A written config is loaded back", func() {
			content := `
backup_root = "/srv/backups"

[logging]
level = "debug"
file = "/var/log/abackup.log"

[permissions]
group = "backup"
directories = "0770"
files = "0660"

[docker]
helper_image = "alpine:3"

[notifications.slack]
api_url = "https://hooks.slack.test/T000"
channel = "#ops"

[healthchecks.default]
uuid = "1234"
include_messages = true
`
			So(os.WriteFile(path, []byte(content), 0600), ShouldBeNil)

			cm, err := NewConfigManager(path)
			So(err, ShouldBeNil)
			So(cm.Validate(), ShouldBeNil)

			cfg := cm.GetConfig()
			So(cfg.BackupRoot, ShouldEqual, "/srv/backups")
			So(cfg.Permissions.Group, ShouldEqual, "backup")
			So(cm.DirMode(), ShouldEqual, os.FileMode(0770))
			So(cm.FileMode(), ShouldEqual, os.FileMode(0660))
			So(cfg.Docker.HelperImage, ShouldEqual, "alpine:3")
			So(cfg.Notifications.Slack.Channel, ShouldEqual, "#ops")
			So(*cfg.Healthchecks.Default.IncludeMessages, ShouldBeTrue)
			So(cfg.Healthchecks.Default.NotifyStart, ShouldBeNil)
			So(cm.LogFile(), ShouldEqual, "/var/log/abackup.log")
		})

		Convey("Save round trips through the file", func() {
			cm, err := NewConfigManager(path)
			So(err, ShouldBeNil)
			cm.GetConfig().BackupRoot = "/srv/backups"
			So(cm.Save(), ShouldBeNil)

			reloaded, err := NewConfigManager(path)
			So(err, ShouldBeNil)
			So(reloaded.Exists(), ShouldBeTrue)
			So(reloaded.GetConfig().BackupRoot, ShouldEqual, "/srv/backups")
		})

		Convey("Bad permissions and relative roots are rejected", func() {
			So(os.WriteFile(path, []byte("backup_root = \"backups\"\n"), 0600), ShouldBeNil)
			cm, _ := NewConfigManager(path)
			So(cm.Validate(), ShouldNotBeNil)

			So(os.WriteFile(path, []byte("backup_root = \"/b\"\n[permissions]\nfiles = \"rw\"\n"), 0600), ShouldBeNil)
			cm, _ = NewConfigManager(path)
			So(cm.Validate(), ShouldNotBeNil)
		})

		Convey("Invalid TOML is an error", func() {
			So(os.WriteFile(path, []byte("backup_root = "), 0600), ShouldBeNil)
			_, err := NewConfigManager(path)
			So(err, ShouldNotBeNil)
		})
	})
}
