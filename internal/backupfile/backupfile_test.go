package backupfile

import (
	"archive/tar"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/pgzip"
	. "github.com/smartystreets/goconvey/convey"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func touch(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(name), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func writeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := pgzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	for _, c := range []interface{ Close() error }{tw, gz, f} {
		if err := c.Close(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNaming(t *testing.T) {
	now := time.Date(2023, 2, 1, 3, 4, 5, 0, time.UTC)

	Convey("Given a backup file", t, func() {
		dir := t.TempDir()

		Convey("Single naming without timestamps yields the same name every time", func() {
			settings := Settings{Single: true, Compress: true}
			a := New("appdb", dir, "sql", settings, WithClock(fixedClock(now)))
			b := New("appdb", dir, "sql", settings, WithClock(fixedClock(now.Add(time.Hour))))
			So(a.Name(), ShouldEqual, "appdb.sql.gz")
			So(b.Name(), ShouldEqual, a.Name())
			So(a.Versioned(), ShouldBeFalse)
		})

		Convey("Versioned names carry a timestamp", func() {
			a := New("appdb", dir, "sql", Settings{Compress: true}, WithClock(fixedClock(now)))
			b := New("appdb", dir, "sql", Settings{Compress: true}, WithClock(fixedClock(now.Add(time.Second))))
			So(a.Name(), ShouldEqual, "appdb_20230201_030405.sql.gz")
			So(b.Name(), ShouldEqual, "appdb_20230201_030406.sql.gz")
		})

		Convey("Forcing timestamps on single naming versions the file", func() {
			f := New("appdb", dir, "sql", Settings{Single: true, ForceTimestamp: true}, WithClock(fixedClock(now)))
			So(f.Name(), ShouldEqual, "appdb_20230201_030405.sql")
		})

		Convey("The configured prefix replaces the identifier", func() {
			f := New("appdb", dir, "tar", Settings{Single: true, Prefix: "nightly", Compress: true})
			So(f.Prefix(), ShouldEqual, "nightly")
			So(f.Name(), ShouldEqual, "nightly.tar.gz")
		})

		Convey("The name is computed once", func() {
			ticks := now
			f := New("appdb", dir, "sql", Settings{}, WithClock(func() time.Time {
				ticks = ticks.Add(time.Minute)
				return ticks
			}))
			first := f.Name()
			So(f.Name(), ShouldEqual, first)
			So(f.Path(), ShouldEqual, filepath.Join(dir, first))
		})

		Convey("The raw path drops the compression suffix", func() {
			f := New("appdb", dir, "sql", Settings{Single: true, Compress: true})
			So(f.Path(), ShouldEqual, filepath.Join(dir, "appdb.sql.gz"))
			So(f.RawPath(), ShouldEqual, filepath.Join(dir, "appdb.sql"))
			So(f.Extension(), ShouldEqual, "sql.gz")
			So(f.RawExtension(), ShouldEqual, "sql")
		})
	})
}

func TestMatches(t *testing.T) {
	Convey("Matching is strict on prefix and extension", t, func() {
		So(Matches("db.sql.gz", "db", "sql.gz"), ShouldBeTrue)
		So(Matches("db_20230101_000000.sql.gz", "db", "sql.gz"), ShouldBeTrue)
		So(Matches("db_20230101_000000.sql", "db", "sql.gz"), ShouldBeFalse)
		So(Matches("dbx_20230101_000000.sql.gz", "db", "sql.gz"), ShouldBeFalse)
		So(Matches("db_old.sql.gz", "db", "sql.gz"), ShouldBeFalse)
		So(Matches("db_extra_20230101_000000.sql.gz", "db", "sql.gz"), ShouldBeFalse)
	})
}

func TestResolve(t *testing.T) {
	Convey("Given two versioned backups", t, func() {
		dir := t.TempDir()
		touch(t, dir, "db_20230101_000000.sql.gz", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
		touch(t, dir, "db_20230201_000000.sql.gz", time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC))
		touch(t, dir, "other_20230301_000000.sql.gz", time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC))

		Convey("Restore picks the most recent one", func() {
			f := New("db", dir, "sql", Settings{Compress: true})
			path, err := f.Resolve()
			So(err, ShouldBeNil)
			So(path, ShouldEqual, filepath.Join(dir, "db_20230201_000000.sql.gz"))
			So(f.Name(), ShouldEqual, "db_20230201_000000.sql.gz")
		})

		Convey("Equal modification times fall back to the name", func() {
			same := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			touch(t, dir, "db_20230101_000000.sql.gz", same)
			touch(t, dir, "db_20230201_000000.sql.gz", same)
			name, err := FindYoungest(dir, "db", "sql.gz")
			So(err, ShouldBeNil)
			So(name, ShouldEqual, "db_20230201_000000.sql.gz")
		})

		Convey("A pinned file name wins", func() {
			f := New("db", dir, "sql", Settings{Compress: true}, WithFileName("db_20230101_000000.sql.gz"))
			path, err := f.Resolve()
			So(err, ShouldBeNil)
			So(filepath.Base(path), ShouldEqual, "db_20230101_000000.sql.gz")
		})

		Convey("A pinned file that does not exist is reported", func() {
			f := New("db", dir, "sql", Settings{Compress: true}, WithFileName("db_19990101_000000.sql.gz"))
			_, err := f.Resolve()
			So(errors.Is(err, ErrNoBackupFound), ShouldBeTrue)
		})

		Convey("No matching artifact is reported", func() {
			f := New("missing", dir, "sql", Settings{Compress: true})
			_, err := f.Resolve()
			So(errors.Is(err, ErrNoBackupFound), ShouldBeTrue)
		})

		Convey("A missing directory is reported as no backup", func() {
			f := New("db", filepath.Join(dir, "nope"), "sql", Settings{Compress: true})
			_, err := f.Resolve()
			So(errors.Is(err, ErrNoBackupFound), ShouldBeTrue)
		})
	})
}

func TestPrune(t *testing.T) {
	Convey("Given five versioned backups", t, func() {
		dir := t.TempDir()
		base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			ts := base.Add(time.Duration(i) * time.Hour)
			touch(t, dir, "db_"+ts.Format(TimestampFormat)+".sql.gz", ts)
		}
		touch(t, dir, "unrelated.txt", base)

		Convey("Keeping three removes the two oldest", func() {
			removed, err := Prune(dir, "db", "sql.gz", 3, nil)
			So(err, ShouldBeNil)
			So(removed, ShouldResemble, []string{"db_20230101_000000.sql.gz", "db_20230101_010000.sql.gz"})

			entries, err := Find(dir, "db", "sql.gz")
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 3)
			So(entries[0].Name, ShouldEqual, "db_20230101_020000.sql.gz")

			_, err = os.Stat(filepath.Join(dir, "unrelated.txt"))
			So(err, ShouldBeNil)
		})

		Convey("Keeping more than exist removes nothing", func() {
			removed, err := Prune(dir, "db", "sql.gz", 10, nil)
			So(err, ShouldBeNil)
			So(removed, ShouldBeEmpty)
		})

		Convey("Keeping zero still keeps the newest", func() {
			_, err := Prune(dir, "db", "sql.gz", 0, nil)
			So(err, ShouldBeNil)
			name, _ := FindYoungest(dir, "db", "sql.gz")
			So(name, ShouldEqual, "db_20230101_040000.sql.gz")
			entries, _ := Find(dir, "db", "sql.gz")
			So(entries, ShouldHaveLength, 1)
		})

		Convey("Single naming does not prune", func() {
			f := New("db", dir, "sql", Settings{Single: true, Compress: true})
			removed, err := f.Prune(1, nil)
			So(err, ShouldBeNil)
			So(removed, ShouldBeEmpty)
		})
	})
}

func TestVerify(t *testing.T) {
	Convey("Given artifacts on disk", t, func() {
		dir := t.TempDir()

		Convey("A gzipped tar archive is walked", func() {
			path := filepath.Join(dir, "app.tar.gz")
			f, err := os.Create(path)
			So(err, ShouldBeNil)
			gz := pgzip.NewWriter(f)
			tw := tar.NewWriter(gz)
			body := []byte("hello")
			So(tw.WriteHeader(&tar.Header{Name: "data/hello.txt", Mode: 0644, Size: int64(len(body))}), ShouldBeNil)
			_, err = tw.Write(body)
			So(err, ShouldBeNil)
			So(tw.Close(), ShouldBeNil)
			So(gz.Close(), ShouldBeNil)
			So(f.Close(), ShouldBeNil)

			report, err := Verify(path)
			So(err, ShouldBeNil)
			So(report.Compressed, ShouldBeTrue)
			So(report.TarEntries, ShouldEqual, 1)
			So(report.Uncompressed, ShouldEqual, 5)
		})

		Convey("A gzipped tar with several entries is read to its trailer", func() {
			path := filepath.Join(dir, "site.tar.gz")
			writeTarGz(t, path, map[string]string{
				"data/a.txt": "alpha",
				"data/b.txt": "bravo",
				"data/c.txt": "charlie",
			})

			var report *VerifyReport
			var err error
			So(func() { report, err = Verify(path) }, ShouldNotPanic)
			So(err, ShouldBeNil)
			So(report.TarEntries, ShouldEqual, 3)
			So(report.Uncompressed, ShouldEqual, 17)
		})

		Convey("A gzipped tar cut before its trailer is corrupt", func() {
			path := filepath.Join(dir, "site.tar.gz")
			writeTarGz(t, path, map[string]string{"data/a.txt": "alpha"})
			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(os.WriteFile(path, data[:len(data)-4], 0644), ShouldBeNil)

			So(func() { _, err = Verify(path) }, ShouldNotPanic)
			So(errors.Is(err, ErrCorrupt), ShouldBeTrue)
		})

		Convey("A gzipped dump is read through", func() {
			path := filepath.Join(dir, "db.sql.gz")
			f, err := os.Create(path)
			So(err, ShouldBeNil)
			gz := pgzip.NewWriter(f)
			_, err = gz.Write([]byte("select 1;"))
			So(err, ShouldBeNil)
			So(gz.Close(), ShouldBeNil)
			So(f.Close(), ShouldBeNil)

			report, err := Verify(path)
			So(err, ShouldBeNil)
			So(report.Compressed, ShouldBeTrue)
			So(report.Uncompressed, ShouldEqual, 9)
		})

		Convey("A truncated gzip stream is corrupt", func() {
			path := filepath.Join(dir, "db.sql.gz")
			f, err := os.Create(path)
			So(err, ShouldBeNil)
			gz := pgzip.NewWriter(f)
			_, err = gz.Write([]byte("create table t (id int);"))
			So(err, ShouldBeNil)
			So(gz.Close(), ShouldBeNil)
			So(f.Close(), ShouldBeNil)

			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(os.WriteFile(path, data[:len(data)-6], 0644), ShouldBeNil)

			_, err = Verify(path)
			So(errors.Is(err, ErrCorrupt), ShouldBeTrue)
		})

		Convey("A plain dump is read through", func() {
			path := filepath.Join(dir, "db.sql")
			So(os.WriteFile(path, []byte("select 1;"), 0644), ShouldBeNil)
			report, err := Verify(path)
			So(err, ShouldBeNil)
			So(report.Compressed, ShouldBeFalse)
			So(report.Uncompressed, ShouldEqual, 9)
		})

		Convey("An empty artifact is corrupt", func() {
			path := filepath.Join(dir, "empty.sql")
			So(os.WriteFile(path, nil, 0644), ShouldBeNil)
			_, err := Verify(path)
			So(errors.Is(err, ErrCorrupt), ShouldBeTrue)
		})

		Convey("A gzip stream with nothing in it is corrupt", func() {
			path := filepath.Join(dir, "db.sql.gz")
			f, err := os.Create(path)
			So(err, ShouldBeNil)
			So(pgzip.NewWriter(f).Close(), ShouldBeNil)
			So(f.Close(), ShouldBeNil)

			_, err = Verify(path)
			So(errors.Is(err, ErrCorrupt), ShouldBeTrue)
		})
	})
}
