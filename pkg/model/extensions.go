package model

import (
	"time"

	"wayfare/pkg/network"
)

// RequestExtensions carries the per-request options that don't belong
// in a dynamic extensions map: explicit timeout overrides, a trace
// sink, and the SNI hostname to present if it must differ from the
// origin's host (e.g. tunneling through a proxy).
type RequestExtensions struct {
	Timeouts     Timeouts
	SNIHostname  string
	ProxyHeaders Header
}

// Timeouts overrides the pool's defaults for a single request. A zero
// value means "use the pool/connection default".
type Timeouts struct {
	Pool    time.Duration
	Connect time.Duration
	Write   time.Duration
	Read    time.Duration
}

// ResponseExtensions carries response-side metadata that doesn't
// belong in a dynamic extensions map.
type ResponseExtensions struct {
	HTTPVersion  string // "HTTP/1.1" or "HTTP/2"
	ReasonPhrase string

	// NetworkStream holds the raw stream for a CONNECT or Upgrade
	// response: set only when the body is no longer HTTP-framed.
	// Its presence implies the owning connection is not reusable.
	NetworkStream network.Stream

	StreamID uint32 // HTTP/2 only, 0 for HTTP/1.1
}
