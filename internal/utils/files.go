package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// AtomicWriteFile writes through a temp file in the same directory and
// renames it over filename, creating the directory when missing.
func AtomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".abackup-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	defer os.Remove(tmpName)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}

	return os.Rename(tmpName, filename)
}

// ParseFileMode parses an octal permission string such as "0750".
// An empty string yields 0, meaning "leave as is".
func ParseFileMode(s string) (os.FileMode, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil || n > 0777 {
		return 0, fmt.Errorf("invalid permission %q: must be octal like 0750", s)
	}
	return os.FileMode(n), nil
}

// ResolveFile returns the absolute path of a config file. A directory
// resolves to defaultName inside it.
func ResolveFile(path, defaultName string) (string, error) {
	if path == "" {
		path = defaultName
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(abs)
	if err == nil && info.IsDir() {
		abs = filepath.Join(abs, defaultName)
	}
	return filepath.Clean(abs), nil
}
