package http1

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"wayfare/pkg/network"
)

// pipeStream adapts a net.Conn (typically one end of net.Pipe) to
// network.Stream for deterministic, socket-free engine tests.
type pipeStream struct {
	conn net.Conn
}

func newPipeStream() (network.Stream, net.Conn) {
	client, server := net.Pipe()
	return &pipeStream{conn: client}, server
}

func (p *pipeStream) Read(ctx context.Context, b []byte) (int, error) {
	return p.conn.Read(b)
}

func (p *pipeStream) Write(ctx context.Context, b []byte) (int, error) {
	return p.conn.Write(b)
}

func (p *pipeStream) Close() error { return p.conn.Close() }

func (p *pipeStream) SetDeadline(t time.Time) error { return p.conn.SetDeadline(t) }

func (p *pipeStream) StartTLS(ctx context.Context, cfg *tls.Config, serverName string) (network.Stream, error) {
	return p, nil
}

func (p *pipeStream) GetExtraInfo(key string) (interface{}, bool) { return nil, false }
