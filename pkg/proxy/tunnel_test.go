package proxy

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wayfare/pkg/model"
)

func TestTunnelWritesConnectRequestAndAcceptsOn2xx(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	serverDone := make(chan string, 1)
	go func() {
		r := bufio.NewReader(server)
		line, _ := r.ReadString('\n')
		for {
			l, err := r.ReadString('\n')
			if err != nil || l == "\r\n" {
				break
			}
		}
		serverDone <- line
		_, _ = server.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
	}()

	stream := &pipeStream{conn: client}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := Tunnel(ctx, stream, model.Origin{Scheme: "https", Host: "example.com", Port: 443}, Config{})
	require.NoError(t, err)

	requestLine := <-serverDone
	require.Equal(t, "CONNECT example.com:443 HTTP/1.1\r\n", requestLine)
}

func TestTunnelFailsOnNon2xx(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		for {
			l, err := r.ReadString('\n')
			if err != nil || l == "\r\n" {
				break
			}
		}
		_, _ = server.Write([]byte("HTTP/1.1 407 Proxy Authentication Required\r\n\r\n"))
	}()

	stream := &pipeStream{conn: client}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := Tunnel(ctx, stream, model.Origin{Scheme: "https", Host: "example.com", Port: 443}, Config{})
	require.Error(t, err)
}

func TestTunnelIncludesProxyAuthorization(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	headerDone := make(chan bool, 1)
	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		sawAuth := false
		for {
			l, err := r.ReadString('\n')
			if err != nil || l == "\r\n" {
				break
			}
			if l == "Proxy-Authorization: Basic dXNlcjpwYXNz\r\n" {
				sawAuth = true
			}
		}
		headerDone <- sawAuth
		_, _ = server.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	}()

	stream := &pipeStream{conn: client}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := Tunnel(ctx, stream, model.Origin{Scheme: "https", Host: "example.com", Port: 443}, Config{Auth: "user:pass"})
	require.NoError(t, err)
	require.True(t, <-headerDone)
}
