package http2

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"wayfare/pkg/helper/errors"
	"wayfare/pkg/model"
)

// streamState tracks one HTTP/2 stream through RFC 7540 §5.1's
// simplified client-side lifecycle: idle -> open -> half-closed
// (local, after END_STREAM sent) -> closed (after END_STREAM/RST
// received).
type streamState int

const (
	streamOpen streamState = iota
	streamHalfClosedLocal
	streamClosed
)

// Stream is one in-flight HTTP/2 request/response exchange.
type Stream struct {
	id     uint32
	engine *Engine

	mu    sync.Mutex
	state streamState

	headers    chan model.Response
	headersErr chan error

	dataCh  chan []byte
	dataErr chan error
	done    bool

	closedCh  chan struct{}
	closeOnce sync.Once

	// sendWindow is guarded by engine.sendWindowMu, not mu: send-side
	// flow control needs to wait on connection- and stream-level
	// credit together under one condition variable.
	sendWindow int64

	// recvWindow is charged by the engine's single reader goroutine
	// and credited back by whichever goroutine drains the body via
	// streamBody.Next, so it is atomic rather than mutex-guarded.
	recvWindow atomic.Int64
}

func newStream(id uint32, e *Engine, initialSendWindow int64) *Stream {
	st := &Stream{
		id:         id,
		engine:     e,
		state:      streamOpen,
		headers:    make(chan model.Response, 1),
		headersErr: make(chan error, 1),
		// Buffered generously relative to a single MaxFrameSize DATA
		// frame: handleData now blocks rather than drops once this
		// fills, so undersizing it stalls the connection's one reader
		// goroutine for every other stream too, not just this one.
		dataCh:     make(chan []byte, 64),
		dataErr:    make(chan error, 1),
		closedCh:   make(chan struct{}),
		sendWindow: initialSendWindow,
	}
	st.recvWindow.Store(int64(DefaultSettings().InitialWindowSize))
	return st
}

// signalClosed marks the stream as no longer accepting DATA frame
// deliveries, unblocking any handleData call stuck sending into a
// full dataCh after the caller gave up reading it.
func (s *Stream) signalClosed() {
	s.closeOnce.Do(func() { close(s.closedCh) })
}

// waitHeaders blocks until this stream's response headers arrive, or
// ctx is done, or the stream fails before headers arrive.
func (s *Stream) waitHeaders(ctx context.Context) (*model.Response, error) {
	select {
	case resp := <-s.headers:
		resp.Body = &streamBody{stream: s}
		return &resp, nil
	case err := <-s.headersErr:
		return nil, err
	case <-ctx.Done():
		return nil, errors.NewTimeoutError(errors.TimeoutRead, ctx.Err())
	}
}

// streamBody is the model.BodyStream backing an HTTP/2 response. It
// pulls DATA frame payloads off the stream's channel as the
// demultiplexer goroutine delivers them.
type streamBody struct {
	stream *Stream
}

func (b *streamBody) Next(ctx context.Context) ([]byte, error) {
	select {
	case chunk, ok := <-b.stream.dataCh:
		if !ok {
			return nil, io.EOF
		}
		b.stream.engine.creditRecvWindow(b.stream, len(chunk))
		return chunk, nil
	case err := <-b.stream.dataErr:
		return nil, err
	case <-ctx.Done():
		return nil, errors.NewTimeoutError(errors.TimeoutRead, ctx.Err())
	}
}

func (b *streamBody) Close() error {
	b.stream.signalClosed()
	b.stream.engine.resetStream(b.stream.id)
	return nil
}
