package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const LockDirName = ".locks"

var ErrLocked = errors.New("operation in progress")

// LockManager keeps one pid file per container so overlapping runs of the
// same project do not write into the same directory.
type LockManager struct {
	lockDir string
	// Interval between attempts while waiting for a held lock.
	Interval time.Duration
}

func NewLockManager(root, project string) *LockManager {
	return &LockManager{
		lockDir:  filepath.Join(root, project, LockDirName),
		Interval: 100 * time.Millisecond,
	}
}

func (lm *LockManager) path(name string) string {
	return filepath.Join(lm.lockDir, name+".lock")
}

// TryLock takes the lock for name, waiting up to timeout. A lock left by a
// process that no longer exists is taken over.
func (lm *LockManager) TryLock(name string, timeout time.Duration) error {
	if err := os.MkdirAll(lm.lockDir, 0750); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	lockFile := lm.path(name)
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(lockFile)
				return fmt.Errorf("failed to write lock file: %w", werr)
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		if pid, ok := lm.owner(name); ok && !alive(pid) {
			os.Remove(lockFile)
			continue
		}

		if !time.Now().Before(deadline) {
			return fmt.Errorf("%s: %w", name, ErrLocked)
		}
		time.Sleep(lm.Interval)
	}
}

func (lm *LockManager) Unlock(name string) {
	os.Remove(lm.path(name))
}

func (lm *LockManager) IsLocked(name string) bool {
	_, err := os.Stat(lm.path(name))
	return err == nil
}

// owner reads the pid recorded in the lock file.
func (lm *LockManager) owner(name string) (int, bool) {
	data, err := os.ReadFile(lm.path(name))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
