package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wayfare/pkg/model"
	"wayfare/pkg/network"
	"wayfare/pkg/proxy"
)

// pipeStream adapts a net.Conn to network.Stream for deterministic
// tests without a real socket or TLS handshake.
type pipeStream struct{ conn net.Conn }

func (p *pipeStream) Read(ctx context.Context, b []byte) (int, error)  { return p.conn.Read(b) }
func (p *pipeStream) Write(ctx context.Context, b []byte) (int, error) { return p.conn.Write(b) }
func (p *pipeStream) Close() error                                     { return p.conn.Close() }
func (p *pipeStream) SetDeadline(t time.Time) error                    { return p.conn.SetDeadline(t) }
func (p *pipeStream) StartTLS(ctx context.Context, cfg *tls.Config, serverName string) (network.Stream, error) {
	return p, nil
}
func (p *pipeStream) GetExtraInfo(key string) (interface{}, bool) { return nil, false }

type mockDialer struct {
	client net.Conn
}

func (d *mockDialer) DialTCP(ctx context.Context, host string, port int) (network.Stream, error) {
	return &pipeStream{conn: d.client}, nil
}

func (d *mockDialer) DialUnix(ctx context.Context, path string) (network.Stream, error) {
	return &pipeStream{conn: d.client}, nil
}

func serverRespondOnce(t *testing.T, conn net.Conn, response string) {
	t.Helper()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}
	_, err := conn.Write([]byte(response))
	require.NoError(t, err)
}

func TestConnectionHandleRequestPlaintextHTTP1(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		serverRespondOnce(t, server, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	}()

	c := New(model.Origin{Scheme: "http", Host: "example.com", Port: 80}, &mockDialer{client: client}, Config{
		HTTP1: true,
	})

	require.Equal(t, model.StateNew, c.State())
	require.True(t, c.IsAvailable())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := &model.Request{
		Method: "GET",
		URL:    model.URL{Scheme: "http", Host: "example.com", Port: 80, Target: "/"},
	}

	resp, err := c.HandleRequest(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)

	require.False(t, c.IsIdle(), "connection stays busy until the response body is drained")

	drainBody(t, ctx, resp.Body)
	require.True(t, c.IsIdle())
	require.False(t, c.IsClosed())

	stats := c.Stats()
	require.Equal(t, int64(1), stats.RequestCount)

	<-serverDone
}

func drainBody(t *testing.T, ctx context.Context, body model.BodyStream) {
	t.Helper()
	for {
		_, err := body.Next(ctx)
		if err != nil {
			return
		}
	}
}

func TestConnectionCanHandleRequestMatchesOriginOnly(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(model.Origin{Scheme: "http", Host: "example.com", Port: 80}, &mockDialer{client: client}, Config{HTTP1: true})

	require.True(t, c.CanHandleRequest(model.Origin{Scheme: "http", Host: "example.com", Port: 80}))
	require.False(t, c.CanHandleRequest(model.Origin{Scheme: "http", Host: "other.com", Port: 80}))
}

func TestConnectionHasExpired(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(model.Origin{Scheme: "http", Host: "example.com", Port: 80}, &mockDialer{client: client}, Config{
		HTTP1:           true,
		KeepaliveExpiry: time.Millisecond,
	})
	c.state = model.StateIdle
	c.stats.LastActivity = time.Now().Add(-time.Hour)

	require.True(t, c.HasExpired())
}

func TestConnectionForwardProxyEmitsAbsoluteFormAndAuth(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	proxyOrigin := model.Origin{Scheme: "http", Host: "proxy.local", Port: 8080}

	serverDone := make(chan string, 1)
	go func() {
		r := bufio.NewReader(server)
		requestLine, err := r.ReadString('\n')
		require.NoError(t, err)
		for {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			if line == "\r\n" {
				break
			}
		}
		serverDone <- requestLine
		_, _ = server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	}()

	c := New(proxyOrigin, &mockDialer{client: client}, Config{
		HTTP1: true,
		Proxy: &proxy.Config{Mode: proxy.ModeForward, Origin: proxyOrigin},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := &model.Request{
		Method: "GET",
		URL:    model.URL{Scheme: "http", Host: "example.com", Port: 80, Target: "/x"},
	}

	resp, err := c.HandleRequest(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)

	requestLine := <-serverDone
	require.Equal(t, "GET http://example.com:80/x HTTP/1.1\r\n", requestLine)
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(model.Origin{Scheme: "http", Host: "example.com", Port: 80}, &mockDialer{client: client}, Config{HTTP1: true})
	require.NoError(t, c.Close())
	require.True(t, c.IsClosed())
	require.NoError(t, c.Close())
}
