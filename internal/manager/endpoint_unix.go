//go:build unix

package manager

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
)

// DefaultEndpoint returns the per-user Unix socket path for the manager.
func DefaultEndpoint() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = filepath.Join(os.TempDir(), fmt.Sprintf("distant-%d", os.Getuid()))
	}
	return filepath.Join(dir, "distant.sock")
}

// ListenEndpoint binds the local endpoint, replacing a stale socket file.
func ListenEndpoint(path string) (net.Listener, error) {
	if path == "" {
		path = DefaultEndpoint()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	// A previous run may have left the socket file behind.
	if _, err := os.Stat(path); err == nil {
		if conn, err := net.Dial("unix", path); err == nil {
			conn.Close()
			return nil, fmt.Errorf("manager already listening on %s", path)
		}
		os.Remove(path)
	}
	return net.Listen("unix", path)
}

// DialEndpoint connects to a running manager's local endpoint.
func DialEndpoint(path string) (io.ReadWriteCloser, error) {
	if path == "" {
		path = DefaultEndpoint()
	}
	return net.Dial("unix", path)
}
