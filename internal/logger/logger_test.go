package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLogger(t *testing.T) {
	Convey("Given the logger package", t, func() {
		Convey("A console-only logger writes to the given writer", func() {
			var buf bytes.Buffer
			log, err := New(Options{Level: "info", Console: &buf})
			So(err, ShouldBeNil)

			log.Infow("backup finished", "container", "app")
			log.Debug("hidden")
			log.Close()

			So(buf.String(), ShouldContainSubstring, "backup finished")
			So(buf.String(), ShouldContainSubstring, `"container": "app"`)
			So(buf.String(), ShouldNotContainSubstring, "hidden")
		})

		Convey("A log file receives JSON lines", func() {
			file := filepath.Join(t.TempDir(), "logs", "abackup.log")
			var buf bytes.Buffer
			log, err := New(Options{Level: "debug", File: file, Console: &buf})
			So(err, ShouldBeNil)

			log.Debugw("running command", "command", "tar /data/app")
			log.Close()

			data, err := os.ReadFile(file)
			So(err, ShouldBeNil)
			So(string(data), ShouldContainSubstring, `"msg":"running command"`)
		})

		Convey("An unknown level falls back to info", func() {
			var buf bytes.Buffer
			log, err := New(Options{Level: "loud", Console: &buf})
			So(err, ShouldBeNil)
			log.Debug("hidden")
			log.Info("shown")
			log.Close()
			So(buf.String(), ShouldNotContainSubstring, "hidden")
			So(buf.String(), ShouldContainSubstring, "shown")
		})

		Convey("An unusable log directory is an error", func() {
			blocker := filepath.Join(t.TempDir(), "file")
			So(os.WriteFile(blocker, nil, 0644), ShouldBeNil)
			_, err := New(Options{File: filepath.Join(blocker, "abackup.log")})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to create log directory")
		})

		Convey("Nop discards everything", func() {
			So(func() { Nop().Info("x") }, ShouldNotPanic)
		})
	})
}
