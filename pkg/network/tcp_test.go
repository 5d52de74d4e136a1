package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDialTCPRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		_, _ = conn.Read(buf)
		_, _ = conn.Write(buf)
	}()

	addr := ln.Addr().(*net.TCPAddr)

	dialer := &TCPDialer{ConnectTimeout: 2 * time.Second, SocketOptions: true}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := dialer.DialTCP(ctx, "127.0.0.1", addr.Port)
	require.NoError(t, err)
	defer stream.Close()

	n, err := stream.Write(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = stream.Read(ctx, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestDialTCPConnectionRefused(t *testing.T) {
	dialer := &TCPDialer{ConnectTimeout: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := dialer.DialTCP(ctx, "127.0.0.1", 1) // port 1 should refuse
	require.Error(t, err)
}

func TestALPNOffer(t *testing.T) {
	require.Equal(t, []string{"http/1.1", "h2"}, ALPNOffer(true, true))
	require.Equal(t, []string{"h2"}, ALPNOffer(false, true))
	require.Nil(t, ALPNOffer(true, false))
}
