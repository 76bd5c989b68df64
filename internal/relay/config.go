package relay

import (
	"strings"
	"time"
)

// Config holds websocket relay settings
type Config struct {
	// PingInterval is how often the server pings each connection
	PingInterval time.Duration
	// PingTimeout is how long a pong may take before the connection is dropped
	PingTimeout time.Duration
	// WriteTimeout bounds a single frame write
	WriteTimeout time.Duration
	// ReadLimit is the largest accepted inbound frame, in bytes
	ReadLimit int64
	// DisconnectTimeout bounds persisting a player's connection state once the request is gone
	DisconnectTimeout time.Duration
	// OriginPatterns lists hosts allowed to open cross-origin websockets
	OriginPatterns []string
}

// DefaultConfig returns default relay configuration
func DefaultConfig() Config {
	return Config{
		PingInterval:      30 * time.Second,
		PingTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadLimit:         64 << 10,
		DisconnectTimeout: 5 * time.Second,
	}
}

// OriginPattern reduces a browser origin such as https://play.example.com
// to the host pattern websocket.AcceptOptions matches against.
func OriginPattern(origin string) string {
	if i := strings.Index(origin, "://"); i >= 0 {
		origin = origin[i+3:]
	}
	return strings.TrimSuffix(origin, "/")
}
