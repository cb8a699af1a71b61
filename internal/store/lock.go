package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Lock is an advisory lock file scoped to a data directory. Crawl, repair,
// and embed runs take it so at most one writer is active per store; the
// serve path never takes it.
type Lock struct {
	path string
}

// AcquireLock creates the lock file exclusively, recording the holder's pid.
// A lock held by a process that no longer exists is broken and re-acquired.
func AcquireLock(dataDir string) (*Lock, error) {
	path := filepath.Join(dataDir, ".lock")
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			if closeErr := f.Close(); closeErr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("write lock file: %w", closeErr)
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if !staleLock(path) {
			return nil, fmt.Errorf("another run holds the lock at %s", path)
		}
		os.Remove(path)
	}
	return nil, fmt.Errorf("could not acquire lock at %s", path)
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// staleLock reports whether the recorded holder is gone.
func staleLock(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true
	}
	// On Unix FindProcess always succeeds; signal 0 probes for liveness.
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	return proc.Signal(probeSignal) != nil
}
