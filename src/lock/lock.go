// Package lock guards a staging directory against concurrent runs using an
// advisory flock.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// FileName is the lock file created inside the staging directory.
const FileName = ".lock"

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("staging directory is locked by another run")

// Lock is a held lock.
type Lock struct {
	Path string
	file *os.File
}

// Acquire takes an exclusive, non-blocking lock on dir/.lock, creating dir
// when needed. The holder's PID is written to the file.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir for lock: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	fd := int(f.Fd())
	if err := syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w (holder PID: %d)", ErrLocked, HolderPID(dir))
		}
		return nil, fmt.Errorf("flock: %w", err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &Lock{Path: path, file: f}, nil
}

// Release clears the recorded PID and unlocks the lock file. The file itself
// stays so that every run locks the same inode. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	_ = f.Truncate(0)
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		f.Close()
		return fmt.Errorf("flock LOCK_UN: %w", err)
	}
	return f.Close()
}

// HolderPID returns the PID recorded in dir's lock file, or 0.
func HolderPID(dir string) int {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
