package http2

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	netlib "golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/stretchr/testify/require"

	"wayfare/pkg/model"
	"wayfare/pkg/network"
)

// pipeStream adapts a net.Conn to network.Stream for deterministic
// tests without a real socket.
type pipeStream struct{ conn net.Conn }

func (p *pipeStream) Read(ctx context.Context, b []byte) (int, error)  { return p.conn.Read(b) }
func (p *pipeStream) Write(ctx context.Context, b []byte) (int, error) { return p.conn.Write(b) }
func (p *pipeStream) Close() error                                     { return p.conn.Close() }
func (p *pipeStream) SetDeadline(t time.Time) error                    { return p.conn.SetDeadline(t) }
func (p *pipeStream) StartTLS(ctx context.Context, cfg *tls.Config, serverName string) (network.Stream, error) {
	return p, nil
}
func (p *pipeStream) GetExtraInfo(key string) (interface{}, bool) { return nil, false }

func TestEngineOpenStreamReceivesHeaders(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		fakeServer(t, server)
	}()

	stream := &pipeStream{conn: client}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	engine, err := New(ctx, stream)
	require.NoError(t, err)

	req := &model.Request{
		Method: "GET",
		URL:    model.URL{Scheme: "https", Host: "example.com", Port: 443, Target: "/"},
	}

	resp, err := engine.OpenStream(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
	require.Equal(t, "HTTP/2", resp.Extensions.HTTPVersion)
}

// fakeServer plays the server side of the HTTP/2 handshake: reads the
// client preface and SETTINGS, acknowledges, then answers the first
// HEADERS frame with a 200 response and closes the stream.
func fakeServer(t *testing.T, conn net.Conn) {
	t.Helper()

	r := bufio.NewReader(conn)
	preface := make([]byte, len(clientPreface))
	_, err := readFullTest(r, preface)
	require.NoError(t, err)
	require.Equal(t, clientPreface, string(preface))

	framer := netlib.NewFramer(conn, r)

	f, err := framer.ReadFrame() // client SETTINGS
	require.NoError(t, err)
	_, ok := f.(*netlib.SettingsFrame)
	require.True(t, ok)

	require.NoError(t, framer.WriteSettings())
	require.NoError(t, framer.WriteSettingsAck())

	// Drain frames until the client's HEADERS arrives; SETTINGS/ACKs may
	// interleave with it in either order.
	var hf *netlib.HeadersFrame
	for hf == nil {
		f, err = framer.ReadFrame()
		require.NoError(t, err)
		if h, ok := f.(*netlib.HeadersFrame); ok {
			hf = h
		}
	}

	var buf []byte
	henc := hpack.NewEncoder(&bufWriter{&buf})
	_ = henc.WriteField(hpack.HeaderField{Name: ":status", Value: "200"})

	_ = framer.WriteHeaders(netlib.HeadersFrameParam{
		StreamID:      hf.StreamID,
		BlockFragment: buf,
		EndHeaders:    true,
		EndStream:     true,
	})
}

type bufWriter struct{ buf *[]byte }

func (w *bufWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

func readFullTest(r *bufio.Reader, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := r.Read(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
