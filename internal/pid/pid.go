package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/hwtelemetry/internal/errors"
)

const filePrefix = "hwtelemetry"

// File guards a single running instance per role.
type File struct {
	path string
}

// New returns the pid file for role in the system temp directory.
func New(role string) *File {
	return NewAt(os.TempDir(), role)
}

// NewAt returns the pid file for role inside dir.
func NewAt(dir, role string) *File {
	return &File{path: filepath.Join(dir, filePrefix+"-"+role+".pid")}
}

// Path returns the location of the pid file.
func (f *File) Path() string {
	return f.path
}

// Write writes the current process ID to the pid file. It fails with
// ErrAlreadyRunning when the file names a live process.
func (f *File) Write() error {
	errFactory := errors.New()

	if _, err := os.Stat(f.path); err == nil {
		// PID file exists, check if the process is running
		bytes, err := os.ReadFile(f.path)
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		// A garbled file is left over from a crash and gets overwritten.
		if pid, err := strconv.Atoi(strings.TrimSpace(string(bytes))); err == nil && pid != os.Getpid() && alive(pid) {
			return errFactory.WithData(errors.ErrAlreadyRunning, pid)
		}
	}

	err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0o600)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the pid file.
func (f *File) Remove() error {
	errFactory := errors.New()

	if _, err := os.Stat(f.path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(f.path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
