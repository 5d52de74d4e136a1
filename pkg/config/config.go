// Package config holds the typed configuration for a wayfare pool:
// connection limits, proxy settings, and TLS options, bindable to a
// cobra command's flags or loaded from a YAML file.
package config

import (
	"time"

	"github.com/spf13/cobra"
)

// HTTPVersions selects which protocol versions a pool may negotiate
// for a given origin.
type HTTPVersions struct {
	HTTP1 bool
	HTTP2 bool
}

// PoolConfig configures a ConnectionPool: capacity, keep-alive
// expiry, supported protocol versions, retry policy, and the local
// bind address or Unix domain socket to use instead of DNS+TCP.
type PoolConfig struct {
	MaxConnections          int
	MaxKeepaliveConnections int
	KeepaliveExpiry         time.Duration

	Versions HTTPVersions

	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration

	LocalAddress string
	UDS          string

	Proxy ProxyConfig
	TLS   TLSConfig
}

// ProxyConfig configures an optional forward, tunnel, or SOCKS5 proxy.
type ProxyConfig struct {
	Mode    string // "", "forward", "tunnel", "socks5"
	URL     string
	Auth    string // "user:pass" for Basic auth, empty for none
	Headers map[string]string
}

// TLSConfig configures the TLS handshake used for https origins and
// CONNECT tunnels.
type TLSConfig struct {
	InsecureSkipVerify bool
	MinVersion         uint16
	SessionCacheSize   int
	CAFile             string
}

// DefaultPoolConfig returns the configuration a pool uses when the
// caller supplies no overrides.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxConnections:          100,
		MaxKeepaliveConnections: 20,
		KeepaliveExpiry:         5 * time.Second,
		Versions:                HTTPVersions{HTTP1: true, HTTP2: true},
		MaxRetries:              0,
		InitialWait:             200 * time.Millisecond,
		MaxWait:                 5 * time.Second,
		TLS: TLSConfig{
			SessionCacheSize: 100,
		},
	}
}

// AddFlagsToCommand binds PoolConfig fields to flags on cmd, keeping
// flag definitions on the config type rather than scattered through
// command constructors. Proxy.Headers, TLS.MinVersion and
// TLS.SessionCacheSize have no flag.
func (c *PoolConfig) AddFlagsToCommand(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.IntVar(&c.MaxConnections, "max-connections", c.MaxConnections,
		"maximum number of connections across all origins")
	flags.IntVar(&c.MaxKeepaliveConnections, "max-keepalive-connections", c.MaxKeepaliveConnections,
		"maximum number of idle keep-alive connections")
	flags.DurationVar(&c.KeepaliveExpiry, "keepalive-expiry", c.KeepaliveExpiry,
		"how long an idle connection may sit before it is closed")

	flags.BoolVar(&c.Versions.HTTP1, "http1", c.Versions.HTTP1, "allow HTTP/1.1")
	flags.BoolVar(&c.Versions.HTTP2, "http2", c.Versions.HTTP2, "allow HTTP/2")

	flags.IntVar(&c.MaxRetries, "max-retries", c.MaxRetries, "connect retries before giving up")
	flags.DurationVar(&c.InitialWait, "retry-initial-wait", c.InitialWait, "initial backoff between connect retries")
	flags.DurationVar(&c.MaxWait, "retry-max-wait", c.MaxWait, "maximum backoff between connect retries")

	flags.StringVar(&c.LocalAddress, "local-address", c.LocalAddress, "local address to bind outgoing connections to")
	flags.StringVar(&c.UDS, "uds", c.UDS, "Unix domain socket path to dial instead of TCP")

	flags.StringVar(&c.Proxy.Mode, "proxy-mode", c.Proxy.Mode, "proxy mode: forward, tunnel, or socks5")
	flags.StringVar(&c.Proxy.URL, "proxy-url", c.Proxy.URL, "proxy URL")
	flags.StringVar(&c.Proxy.Auth, "proxy-auth", c.Proxy.Auth, "proxy Basic auth as user:pass")

	flags.BoolVar(&c.TLS.InsecureSkipVerify, "tls-insecure-skip-verify", c.TLS.InsecureSkipVerify, "skip TLS certificate verification")
	flags.StringVar(&c.TLS.CAFile, "tls-ca-file", c.TLS.CAFile, "path to a PEM CA bundle")
}
