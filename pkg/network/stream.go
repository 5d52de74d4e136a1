// Package network is the concrete I/O backend: TCP/Unix dialing and
// the TLS upgrade, behind a small Stream interface so engines and
// connections never touch net.Conn directly.
package network

import (
	"context"
	"crypto/tls"
	"time"
)

// Stream is an established, possibly-TLS-upgraded network connection.
// Implementations must be safe for one reader and one writer goroutine
// to use concurrently (but not two readers, or two writers).
type Stream interface {
	Read(ctx context.Context, p []byte) (int, error)
	Write(ctx context.Context, p []byte) (int, error)
	Close() error

	// SetDeadline sets both read and write deadlines on the
	// underlying connection.
	SetDeadline(t time.Time) error

	// StartTLS upgrades the stream in place, returning a new Stream
	// wrapping the TLS connection. The original Stream must not be
	// used again afterward.
	StartTLS(ctx context.Context, cfg *tls.Config, serverName string) (Stream, error)

	// GetExtraInfo reports connection metadata: "tls_version",
	// "alpn_protocol", "peer_address", and so on. Keys with no known
	// value return (nil, false).
	GetExtraInfo(key string) (interface{}, bool)
}
