// Package daemon implements the PID-file bookkeeping behind "eidetic
// start"/"stop": the standard-library complement to github.com/jacobsa/daemonize,
// which starts the background process but has no notion of stopping it by
// name.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Dir returns ~/.eidetic, creating it if necessary.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".eidetic")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}

// PIDFilePath returns ~/.eidetic/eidetic.pid.
func PIDFilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "eidetic.pid"), nil
}

// OutLogPath and ErrLogPath return ~/.eidetic/eidetic.out and eidetic.err.
// Nothing in this module writes to them: "eidetic start" hands
// daemonize.Run its own stdout for mount progress.
func OutLogPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "eidetic.out"), nil
}

func ErrLogPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "eidetic.err"), nil
}

// WritePID records the current process's PID.
func WritePID() error {
	path, err := PIDFilePath()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// ReadPID returns the PID recorded in ~/.eidetic/eidetic.pid.
func ReadPID() (int, error) {
	path, err := PIDFilePath()
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing pid file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePID deletes the PID file, if any.
func RemovePID() error {
	path, err := PIDFilePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// Signal sends sig to the process recorded in the PID file.
func Signal(sig syscall.Signal) error {
	pid, err := ReadPID()
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signaling process %d: %w", pid, err)
	}
	return nil
}
