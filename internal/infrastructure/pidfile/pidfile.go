package pidfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile enforces single-instance daemon operation through a pid file.
// A stale file left by a dead process is reclaimed automatically.
type PIDFile struct {
	path string
}

// New creates a PIDFile manager for the given path
func New(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Acquire claims the pid file for the current process. It fails when another
// live process holds it and reclaims it when the recorded process is gone.
func (p *PIDFile) Acquire() error {
	if data, err := os.ReadFile(p.path); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && processAlive(pid) {
			return fmt.Errorf("another instance is running (pid %d)", pid)
		}
		// Stale or garbage pid file
		_ = os.Remove(p.path)
	}

	if err := os.WriteFile(p.path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file %s: %w", p.path, err)
	}
	return nil
}

// Release removes the pid file; missing files are not an error
func (p *PIDFile) Release() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pid file %s: %w", p.path, err)
	}
	return nil
}

// processAlive probes a pid with signal 0. EPERM means the process exists
// but belongs to another user, which still counts as alive.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
