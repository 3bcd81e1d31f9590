package runtime

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	errspkg "github.com/drblury/hookd/internal/runtime/errors"
	loggingpkg "github.com/drblury/hookd/internal/runtime/logging"
)

const staleProbeTimeout = 200 * time.Millisecond

// prepareSocket creates the socket's parent directory and removes a socket
// file left behind by a daemon that did not shut down cleanly. A socket that
// still accepts connections belongs to a live daemon and is left alone.
func prepareSocket(path string, log loggingpkg.ServiceLogger) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return &errspkg.BindError{Path: path, Err: err}
	}

	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &errspkg.BindError{Path: path, Err: err}
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return &errspkg.BindError{Path: path, Err: fmt.Errorf("path exists and is not a socket")}
	}

	if conn, err := net.DialTimeout("unix", path, staleProbeTimeout); err == nil {
		_ = conn.Close()
		return &errspkg.BindError{Path: path, Err: fmt.Errorf("socket is in use by another process")}
	}

	log.Warn("Removing stale socket", loggingpkg.LogFields{"path": path})
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &errspkg.BindError{Path: path, Err: err}
	}
	return nil
}

// writePIDFile records the daemon's pid. An empty path disables it.
func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create pid file directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

func removeRuntimeFile(path string, log loggingpkg.ServiceLogger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Failed to remove runtime file", loggingpkg.LogFields{"path": path, "error": err.Error()})
	}
}
