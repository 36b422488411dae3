package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chipsenkbeil/distant-go/internal/conn"
	"github.com/chipsenkbeil/distant-go/internal/wire"
)

// Config tunes the server.
type Config struct {
	// SleepDuration paces polling work such as the graceful drain of a
	// connection's outbound queue.
	SleepDuration time.Duration

	// Shutdown selects when the server stops itself.
	Shutdown Shutdown

	// MaxConnections caps concurrently served connections; zero means
	// unlimited.
	MaxConnections int

	// KeychainTTL is how long dropped connections stay reclaimable.
	KeychainTTL time.Duration

	// BackupCapacity is the per-connection replay window in frames.
	BackupCapacity int

	// MaxFrameSize caps a single inbound frame.
	MaxFrameSize uint64

	// OutboundCapacity bounds each connection's response queue.
	OutboundCapacity int

	// ServerVersion is reported by the version operation.
	ServerVersion string
}

func (c *Config) withDefaults() {
	if c.SleepDuration <= 0 {
		c.SleepDuration = 50 * time.Millisecond
	}
	if c.KeychainTTL <= 0 {
		c.KeychainTTL = conn.DefaultKeychainTTL
	}
	if c.BackupCapacity <= 0 {
		c.BackupCapacity = wire.DefaultBackupCapacity
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = wire.DefaultMaxFrameSize
	}
	if c.OutboundCapacity <= 0 {
		c.OutboundCapacity = 1024
	}
	if c.ServerVersion == "" {
		c.ServerVersion = "0.0.0-unknown"
	}
}

// ShutdownKind selects the server's self-shutdown behavior.
type ShutdownKind int

const (
	// ShutdownNever keeps the server running until externally stopped.
	ShutdownNever ShutdownKind = iota

	// ShutdownAfter stops the server a fixed duration after it starts.
	ShutdownAfter

	// ShutdownLonely stops the server once it has been without connections
	// for the duration.
	ShutdownLonely
)

// Shutdown is a parsed shutdown policy.
type Shutdown struct {
	Kind     ShutdownKind
	Duration time.Duration
}

func (s Shutdown) String() string {
	switch s.Kind {
	case ShutdownAfter:
		return fmt.Sprintf("after=%s", formatSeconds(s.Duration))
	case ShutdownLonely:
		return fmt.Sprintf("lonely=%s", formatSeconds(s.Duration))
	default:
		return "never"
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// ParseShutdown parses "never", "after=SECS", or "lonely=SECS" (case
// insensitive; SECS may be fractional).
func ParseShutdown(s string) (Shutdown, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "never" {
		return Shutdown{Kind: ShutdownNever}, nil
	}
	key, value, ok := strings.Cut(lower, "=")
	if !ok {
		return Shutdown{}, fmt.Errorf("shutdown policy %q missing key=value form", s)
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return Shutdown{}, fmt.Errorf("bad shutdown duration %q: %w", value, err)
	}
	d := time.Duration(secs * float64(time.Second))
	switch key {
	case "after":
		return Shutdown{Kind: ShutdownAfter, Duration: d}, nil
	case "lonely":
		return Shutdown{Kind: ShutdownLonely, Duration: d}, nil
	default:
		return Shutdown{}, fmt.Errorf("unknown shutdown policy key %q", key)
	}
}
