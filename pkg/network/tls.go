package network

import (
	"context"
	"crypto/tls"
	"net"

	"wayfare/pkg/helper/errors"
)

// sessionCache is shared across handshakes to the same process so
// resumption works across reconnects to the same origin, the way the
// teacher's connection pool configured its *http.Transport.
var sessionCache = tls.NewLRUClientSessionCache(100)

// ALPNOffer builds the NextProtos list a connection offers during the
// TLS handshake: both protocols when both are enabled, just "h2" for
// HTTP/2-only, or nil for HTTP/1.1-only (no
// ALPN negotiation needed).
func ALPNOffer(http1, http2 bool) []string {
	switch {
	case http1 && http2:
		return []string{"http/1.1", "h2"}
	case http2:
		return []string{"h2"}
	default:
		return nil
	}
}

// startTLS performs the TLS client handshake over conn, returning a
// Stream wrapping the encrypted connection. The negotiated ALPN
// protocol and TLS version are exposed through GetExtraInfo.
func startTLS(ctx context.Context, conn net.Conn, cfg *tls.Config, serverName string) (Stream, error) {
	cfg = cfg.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = serverName
	}
	if cfg.ClientSessionCache == nil {
		cfg.ClientSessionCache = sessionCache
	}

	tlsConn := tls.Client(conn, cfg)

	if dl, ok := ctx.Deadline(); ok {
		_ = tlsConn.SetDeadline(dl)
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, errors.NewNetworkError(errors.NetworkConnect, err)
	}

	state := tlsConn.ConnectionState()

	return &connStream{
		conn: tlsConn,
		extra: map[string]interface{}{
			"alpn_protocol": state.NegotiatedProtocol,
			"tls_version":   tlsVersionName(state.Version),
		},
	}, nil
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLSv1.0"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS13:
		return "TLSv1.3"
	default:
		return "unknown"
	}
}
