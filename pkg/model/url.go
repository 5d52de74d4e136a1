package model

import "fmt"

// URL is a decomposed request target: scheme, host, port, and a raw
// target (path plus query, exactly as it should appear on the wire).
// Parsing beyond this decomposition is a caller responsibility; this
// type does not normalize percent-encoding, resolve relative
// references, or validate the target's grammar.
type URL struct {
	Scheme string
	Host   string
	Port   int
	Target string // e.g. "/path?query=1", already wire-ready
}

// Origin returns the Origin this URL targets.
func (u URL) Origin() Origin {
	return NewOrigin(u.Scheme, u.Host, u.Port)
}

// String renders scheme://host:port + target, useful for logging and
// absolute-form request lines.
func (u URL) String() string {
	return fmt.Sprintf("%s://%s:%d%s", u.Scheme, u.Host, u.Port, u.Target)
}
