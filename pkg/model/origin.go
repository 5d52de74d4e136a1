package model

import (
	"fmt"
	"strings"
)

// Origin identifies a remote endpoint: scheme, host, and port.
// Two connections can be reused for each other only if their origins
// are equal; host comparison is case-insensitive per RFC 3986.
type Origin struct {
	Scheme string
	Host   string
	Port   int
}

// NewOrigin builds an Origin, lower-casing the scheme and host so that
// Equal and map-key usage behave consistently regardless of how the
// caller capitalized the input URL.
func NewOrigin(scheme, host string, port int) Origin {
	return Origin{
		Scheme: strings.ToLower(scheme),
		Host:   strings.ToLower(host),
		Port:   port,
	}
}

// Equal reports whether two origins name the same remote endpoint.
func (o Origin) Equal(other Origin) bool {
	return o.Scheme == other.Scheme && o.Host == other.Host && o.Port == other.Port
}

// String renders the origin as scheme://host:port.
func (o Origin) String() string {
	return fmt.Sprintf("%s://%s:%d", o.Scheme, o.Host, o.Port)
}

// IsSSL reports whether this origin requires a TLS handshake.
func (o Origin) IsSSL() bool {
	return o.Scheme == "https" || o.Scheme == "wss"
}

// DefaultPort returns the scheme's default port if the caller didn't
// provide one.
func DefaultPort(scheme string) int {
	switch strings.ToLower(scheme) {
	case "https", "wss":
		return 443
	default:
		return 80
	}
}
