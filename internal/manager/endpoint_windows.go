//go:build windows

package manager

import (
	"io"
	"net"
	"os"

	"github.com/Microsoft/go-winio"
)

// DefaultEndpoint returns the per-user named pipe for the manager.
func DefaultEndpoint() string {
	user := os.Getenv("USERNAME")
	if user == "" {
		user = "default"
	}
	return `\\.\pipe\distant-` + user
}

// ListenEndpoint binds the local named pipe endpoint.
func ListenEndpoint(path string) (net.Listener, error) {
	if path == "" {
		path = DefaultEndpoint()
	}
	return winio.ListenPipe(path, nil)
}

// DialEndpoint connects to a running manager's local endpoint.
func DialEndpoint(path string) (io.ReadWriteCloser, error) {
	if path == "" {
		path = DefaultEndpoint()
	}
	return winio.DialPipe(path, nil)
}
