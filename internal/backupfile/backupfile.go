// Package backupfile names backup artifacts on disk, finds the one to restore
// from, and prunes old versions.
package backupfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	TimestampFormat  = "20060102_150405"
	CompressedSuffix = "gz"
)

var ErrNoBackupFound = errors.New("no backup found")

// Settings is the naming policy for the artifacts of one container.
type Settings struct {
	Single         bool   `toml:"single"`
	Prefix         string `toml:"prefix"`
	ForceTimestamp bool   `toml:"force_timestamp"`
	Compress       bool   `toml:"compress"`
}

type BackupFile struct {
	identifier   string
	dir          string
	extension    string
	settings     Settings
	explicitName string
	now          func() time.Time

	name string
}

type Option func(*BackupFile)

// WithClock replaces time.Now for timestamped names.
func WithClock(now func() time.Time) Option {
	return func(f *BackupFile) {
		if now != nil {
			f.now = now
		}
	}
}

// WithFileName pins the artifact to an existing file, used by restore.
func WithFileName(name string) Option {
	return func(f *BackupFile) {
		f.explicitName = name
	}
}

// New describes the artifact for identifier in dir. extension is the raw
// extension of the wrapped tool's output ("sql", "tar") without ".gz".
func New(identifier, dir, extension string, settings Settings, opts ...Option) *BackupFile {
	f := &BackupFile{
		identifier: identifier,
		dir:        dir,
		extension:  strings.TrimPrefix(extension, "."),
		settings:   settings,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *BackupFile) Dir() string {
	return f.dir
}

func (f *BackupFile) Settings() Settings {
	return f.settings
}

func (f *BackupFile) Compressed() bool {
	return f.settings.Compress
}

func (f *BackupFile) Prefix() string {
	if f.settings.Prefix != "" {
		return f.settings.Prefix
	}
	return f.identifier
}

// RawExtension is the extension before compression.
func (f *BackupFile) RawExtension() string {
	return f.extension
}

// Extension is the at-rest extension, including ".gz" when compression is on.
func (f *BackupFile) Extension() string {
	if f.settings.Compress {
		return f.extension + "." + CompressedSuffix
	}
	return f.extension
}

func (f *BackupFile) Versioned() bool {
	return !f.settings.Single || f.settings.ForceTimestamp
}

// Name is computed once; later calls return the same name.
func (f *BackupFile) Name() string {
	if f.name != "" {
		return f.name
	}
	if f.explicitName != "" {
		f.name = f.explicitName
		return f.name
	}

	stem := f.Prefix()
	if f.Versioned() {
		stem = fmt.Sprintf("%s_%s", stem, f.now().Format(TimestampFormat))
	}
	f.name = fmt.Sprintf("%s.%s", stem, f.Extension())
	return f.name
}

func (f *BackupFile) Path() string {
	return filepath.Join(f.dir, f.Name())
}

// RawPath is where the wrapped tool writes before compression.
func (f *BackupFile) RawPath() string {
	return StripCompression(f.Path())
}

// IsCompressed reports whether the artifact at path is gzipped, judged by its
// name rather than by the naming settings it is restored under.
func IsCompressed(path string) bool {
	return strings.HasSuffix(path, "."+CompressedSuffix)
}

func StripCompression(path string) string {
	return strings.TrimSuffix(path, "."+CompressedSuffix)
}

// Resolve returns the path to restore from: the pinned file when one was
// given, otherwise the most recently modified matching artifact.
func (f *BackupFile) Resolve() (string, error) {
	if f.explicitName != "" {
		path := filepath.Join(f.dir, f.explicitName)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNoBackupFound, path)
		}
		f.name = f.explicitName
		return path, nil
	}

	name, err := FindYoungest(f.dir, f.Prefix(), f.Extension())
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("%w: %s/%s*.%s", ErrNoBackupFound, f.dir, f.Prefix(), f.Extension())
	}

	f.name = name
	return filepath.Join(f.dir, name), nil
}

type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Matches reports whether name is an artifact for (prefix, extension): either
// the single-file name or a timestamped version of it.
func Matches(name, prefix, extension string) bool {
	suffix := "." + extension
	if !strings.HasSuffix(name, suffix) {
		return false
	}
	stem := strings.TrimSuffix(name, suffix)
	if stem == prefix {
		return true
	}
	ts, ok := strings.CutPrefix(stem, prefix+"_")
	if !ok {
		return false
	}
	_, err := time.Parse(TimestampFormat, ts)
	return err == nil
}

// Find lists matching artifacts in dir, oldest first. Ties on modification
// time are broken by name, which orders timestamped names chronologically.
func Find(dir, prefix, extension string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory %s: %w", dir, err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if !de.Type().IsRegular() || !Matches(de.Name(), prefix, extension) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Name: de.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
	return entries, nil
}

func FindYoungest(dir, prefix, extension string) (string, error) {
	entries, err := Find(dir, prefix, extension)
	if err != nil || len(entries) == 0 {
		return "", err
	}
	return entries[len(entries)-1].Name, nil
}
