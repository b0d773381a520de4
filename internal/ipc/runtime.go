package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// RuntimePaths collects the filesystem locations the daemon and its clients
// rendezvous on: the control socket, the PID file, and the "is recording"
// flag file, all under one 0700 runtime directory.
type RuntimePaths struct {
	Dir          string
	SocketPath   string
	PIDFile      string
	RecordingPID string
}

// ResolveRuntimePaths picks $XDG_RUNTIME_DIR/v2m, falling back to
// /tmp/v2m_<uid> when XDG_RUNTIME_DIR is unset (e.g. under some service
// managers or containers).
func ResolveRuntimePaths() (RuntimePaths, error) {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir != "" {
		dir = filepath.Join(dir, "v2m")
	} else {
		dir = filepath.Join(os.TempDir(), fmt.Sprintf("v2m_%d", os.Getuid()))
	}
	if info, err := os.Stat(dir); err == nil {
		if err := checkOwnedByCurrentUser(dir, info); err != nil {
			return RuntimePaths{}, err
		}
	} else if !os.IsNotExist(err) {
		return RuntimePaths{}, fmt.Errorf("stat runtime directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return RuntimePaths{}, fmt.Errorf("create runtime directory %s: %w", dir, err)
	}
	return RuntimePaths{
		Dir:          dir,
		SocketPath:   filepath.Join(dir, "v2m.sock"),
		PIDFile:      filepath.Join(dir, "v2m_daemon.pid"),
		RecordingPID: filepath.Join(dir, "v2m_recording.pid"),
	}, nil
}

// checkOwnedByCurrentUser refuses to let the daemon reuse a pre-existing
// runtime directory owned by a different user — reusing it would let that
// user read or replace our control socket.
func checkOwnedByCurrentUser(dir string, info os.FileInfo) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil // platform without Unix stat semantics; nothing to check
	}
	if int(stat.Uid) != os.Getuid() {
		return fmt.Errorf("runtime directory %s is owned by uid %d, not the current user (uid %d); refusing to use it", dir, stat.Uid, os.Getuid())
	}
	return nil
}
