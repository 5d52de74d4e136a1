package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"syscall"
	"time"

	"wayfare/pkg/helper/errors"
)

// TCPDialer dials plain TCP or Unix domain socket connections,
// optionally bound to a local address, with socket options applied
// through Control before connect(2) runs.
type TCPDialer struct {
	LocalAddress  string
	SocketOptions bool // set SO_REUSEADDR via Control
	ConnectTimeout time.Duration
}

// DialTCP connects to host:port, applying the dialer's local address
// and socket options.
func (d *TCPDialer) DialTCP(ctx context.Context, host string, port int) (Stream, error) {
	dialer := d.netDialer()
	addr := fmt.Sprintf("%s:%d", host, port)

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.NewNetworkError(errors.NetworkConnect, err)
	}
	return &connStream{conn: conn}, nil
}

// DialUnix connects to a Unix domain socket at path instead of
// resolving host:port over TCP.
func (d *TCPDialer) DialUnix(ctx context.Context, path string) (Stream, error) {
	dialer := d.netDialer()

	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, errors.NewNetworkError(errors.NetworkConnect, err)
	}
	return &connStream{conn: conn}, nil
}

func (d *TCPDialer) netDialer() *net.Dialer {
	dialer := &net.Dialer{
		Timeout: d.ConnectTimeout,
	}

	if d.LocalAddress != "" {
		if addr, err := net.ResolveTCPAddr("tcp", d.LocalAddress+":0"); err == nil {
			dialer.LocalAddr = addr
		}
	}

	if d.SocketOptions {
		dialer.Control = setSocketOptions
	}

	return dialer
}

// connStream adapts a net.Conn to the Stream interface.
type connStream struct {
	conn     net.Conn
	extra    map[string]interface{}
}

func (s *connStream) Read(ctx context.Context, p []byte) (int, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(dl)
	}
	n, err := s.conn.Read(p)
	if err != nil {
		return n, errors.NewNetworkError(errors.NetworkRead, err)
	}
	return n, nil
}

func (s *connStream) Write(ctx context.Context, p []byte) (int, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
	}
	n, err := s.conn.Write(p)
	if err != nil {
		return n, errors.NewNetworkError(errors.NetworkWrite, err)
	}
	return n, nil
}

func (s *connStream) Close() error {
	return s.conn.Close()
}

func (s *connStream) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

func (s *connStream) StartTLS(ctx context.Context, cfg *tls.Config, serverName string) (Stream, error) {
	return startTLS(ctx, s.conn, cfg, serverName)
}

func (s *connStream) GetExtraInfo(key string) (interface{}, bool) {
	switch key {
	case "peer_address":
		if s.conn.RemoteAddr() != nil {
			return s.conn.RemoteAddr().String(), true
		}
	}
	v, ok := s.extra[key]
	return v, ok
}

// setSocketOptions is the net.Dialer Control hook: it sets
// SO_REUSEADDR on the raw socket before connect(2), letting a pool
// reuse local ports quickly after closing a connection. On windows,
// where SO_REUSEADDR has different semantics, applyReuseAddr is a no-op.
var setSocketOptions = func(network, address string, c syscall.RawConn) error {
	return applyReuseAddr(c)
}
