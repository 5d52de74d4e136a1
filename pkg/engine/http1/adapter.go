package http1

import (
	"context"

	"wayfare/pkg/network"
)

// streamReader/streamWriter adapt network.Stream's context-taking
// Read/Write to the plain io.Reader/io.Writer bufio needs. Deadlines
// are applied once per exchange via Stream.SetDeadline, so a
// background context here is sufficient.
type streamReader struct {
	ctx context.Context
	s   network.Stream
}

func (r *streamReader) Read(p []byte) (int, error) {
	return r.s.Read(r.ctx, p)
}

type streamWriter struct {
	ctx context.Context
	s   network.Stream
}

func (w *streamWriter) Write(p []byte) (int, error) {
	return w.s.Write(w.ctx, p)
}
