package http1

import (
	"bufio"
	"context"
	"crypto/tls"
	"time"

	"wayfare/pkg/network"
)

// connectStream is the raw stream surrendered to a caller after a
// CONNECT or Upgrade response: reads first drain whatever the
// engine's bufio.Reader had already buffered past the header block,
// then fall through to the underlying stream so the caller's own
// context governs further I/O instead of the background one the
// engine's bufio adapters use.
type connectStream struct {
	reader *bufio.Reader
	stream network.Stream
}

func (s *connectStream) Read(ctx context.Context, p []byte) (int, error) {
	if n := s.reader.Buffered(); n > 0 {
		if n > len(p) {
			n = len(p)
		}
		return s.reader.Read(p[:n])
	}
	return s.stream.Read(ctx, p)
}

func (s *connectStream) Write(ctx context.Context, p []byte) (int, error) {
	return s.stream.Write(ctx, p)
}

func (s *connectStream) Close() error {
	return s.stream.Close()
}

func (s *connectStream) SetDeadline(t time.Time) error {
	return s.stream.SetDeadline(t)
}

func (s *connectStream) StartTLS(ctx context.Context, cfg *tls.Config, serverName string) (network.Stream, error) {
	return s.stream.StartTLS(ctx, cfg, serverName)
}

func (s *connectStream) GetExtraInfo(key string) (interface{}, bool) {
	return s.stream.GetExtraInfo(key)
}
