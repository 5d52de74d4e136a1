package proxy

import (
	"bufio"
	"context"
	"fmt"

	"wayfare/pkg/helper/errors"
	"wayfare/pkg/model"
	"wayfare/pkg/network"
)

// Tunnel performs a CONNECT handshake to destination over stream,
// already dialed to the proxy's own origin. On a non-2xx response it
// returns a ProxyError; the caller must not proceed to a TLS
// handshake over stream in that case.
func Tunnel(ctx context.Context, stream network.Stream, destination model.Origin, cfg Config) error {
	authority := fmt.Sprintf("%s:%d", destination.Host, destination.Port)

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", authority, authority)
	for _, f := range buildHeaderBlock(cfg.Headers, cfg.Auth) {
		req += fmt.Sprintf("%s: %s\r\n", f.Name, f.Value)
	}
	req += "\r\n"

	if _, err := writeAll(ctx, stream, []byte(req)); err != nil {
		return errors.NewProxyError(err)
	}

	r := bufio.NewReader(&ctxReader{ctx: ctx, s: stream})
	status, err := readStatusLine(r)
	if err != nil {
		return errors.NewProxyError(err)
	}
	if err := drainHeaderBlock(r); err != nil {
		return errors.NewProxyError(err)
	}
	if status < 200 || status >= 300 {
		return errors.NewProxyError(errors.Newf("CONNECT failed with status %d", status))
	}
	return nil
}
