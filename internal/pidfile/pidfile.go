// Package pidfile enforces single-instance operation for the
// environment daemon. Two daemons sharing one SQLite database would
// race on the world state, so startup acquires a PID file and refuses
// to run while a live owner holds it.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// File is an acquired PID file. Release it on shutdown.
type File struct {
	path string
}

// Acquire writes the current PID at path. An existing file whose owner
// is still running is an error; a stale file from a dead process is
// replaced.
func Acquire(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create pidfile directory: %w", err)
	}

	if pid, err := readPID(path); err == nil && processAlive(pid) {
		return nil, fmt.Errorf("already running with PID %d (pidfile %s)", pid, path)
	}

	content := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("failed to write pidfile: %w", err)
	}
	return &File{path: path}, nil
}

// Release removes the PID file. Safe to call when the file is already
// gone.
func (f *File) Release() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pidfile: %w", err)
	}
	return nil
}

// Path returns the PID file location.
func (f *File) Path() string {
	return f.path
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive checks whether a PID belongs to a live process. Signal 0
// performs the permission and existence checks without delivering
// anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
