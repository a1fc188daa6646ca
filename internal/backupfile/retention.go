package backupfile

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Prune deletes matching artifacts in dir until at most keep remain, oldest
// first, and returns the names it removed. keep below one is treated as one.
func Prune(dir, prefix, extension string, keep int, log *zap.SugaredLogger) ([]string, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if keep < 1 {
		keep = 1
	}

	entries, err := Find(dir, prefix, extension)
	if err != nil {
		return nil, err
	}
	if len(entries) <= keep {
		return nil, nil
	}

	var removed []string
	for _, entry := range entries[:len(entries)-keep] {
		path := filepath.Join(dir, entry.Name)
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("failed to remove old backup %s: %w", path, err)
		}
		log.Infow("removed old backup", "file", path)
		removed = append(removed, entry.Name)
	}

	return removed, nil
}

// Prune applies retention to the artifacts sharing this file's prefix and
// extension. Single-file naming without timestamps never accumulates versions.
func (f *BackupFile) Prune(keep int, log *zap.SugaredLogger) ([]string, error) {
	if !f.Versioned() {
		return nil, nil
	}
	return Prune(f.dir, f.Prefix(), f.Extension(), keep, log)
}
