// Package http2 implements a from-scratch HTTP/2 client engine on top
// of golang.org/x/net/http2's Framer and hpack sub-packages: the same
// building blocks the standard library's own HTTP/2 transport uses,
// rather than hand-rolled frame parsing.
package http2

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"wayfare/pkg/helper/errors"
	"wayfare/pkg/model"
	"wayfare/pkg/network"
)

// Engine drives one HTTP/2 connection: the preface and SETTINGS
// exchange, a single writer lock, a single demultiplexing reader
// goroutine, and per-stream dispatch bounded by the peer's
// SETTINGS_MAX_CONCURRENT_STREAMS.
type Engine struct {
	stream network.Stream
	framer *http2.Framer

	writeMu sync.Mutex
	henc    *hpack.Encoder
	hencBuf bytes.Buffer

	hdecMu sync.Mutex
	hdec   *hpack.Decoder

	nextStreamID uint32

	// streamsMu guards streams and doubles as the lock behind
	// streamCond: OpenStream waits on it until in-flight streams drop
	// below maxConcurrentStreams, which handleSettings can move in
	// either direction as the peer's SETTINGS frames arrive.
	streamsMu            sync.Mutex
	streamCond           *sync.Cond
	streams              map[uint32]*Stream
	maxConcurrentStreams atomic.Uint32

	settingsMu   sync.Mutex
	peerSettings Settings

	// sendWindowMu/sendWindowCond guard connSendWindow and every
	// Stream's sendWindow: a single lock across both levels keeps
	// "enough connection credit AND enough stream credit" a single
	// condition to wait on, rather than two condition variables that
	// can't wake each other.
	sendWindowMu   sync.Mutex
	sendWindowCond *sync.Cond
	connSendWindow int64

	connRecvWindow atomic.Int64

	closed   atomic.Bool
	readErr  error
	readDone chan struct{}
}

// New performs the client preface and initial SETTINGS exchange over
// stream, returning an Engine ready to open requests.
func New(ctx context.Context, s network.Stream) (*Engine, error) {
	e := &Engine{
		stream:       s,
		streams:      make(map[uint32]*Stream),
		nextStreamID: 1,
		peerSettings: DefaultSettings(),
		readDone:     make(chan struct{}),
	}
	e.streamCond = sync.NewCond(&e.streamsMu)
	e.sendWindowCond = sync.NewCond(&e.sendWindowMu)
	e.maxConcurrentStreams.Store(DefaultSettings().MaxConcurrentStreams)
	e.connSendWindow = int64(DefaultSettings().InitialWindowSize)
	e.connRecvWindow.Store(int64(DefaultSettings().InitialWindowSize))

	e.henc = hpack.NewEncoder(&e.hencBuf)
	e.hdec = hpack.NewDecoder(4096, nil)

	rw := &streamReadWriter{ctx: ctx, s: s}
	e.framer = http2.NewFramer(rw, rw)
	e.framer.AllowIllegalWrites = true

	if _, err := rw.Write([]byte(clientPreface)); err != nil {
		return nil, errors.NewNetworkError(errors.NetworkWrite, err)
	}
	if err := e.framer.WriteSettings(); err != nil {
		return nil, errors.NewLocalProtocolError(err)
	}

	go e.readLoop()

	return e, nil
}

// Capacity reports the peer's negotiated SETTINGS_MAX_CONCURRENT_STREAMS.
func (e *Engine) Capacity() int {
	return int(e.maxConcurrentStreams.Load())
}

// InFlight reports the number of streams currently open on this
// connection.
func (e *Engine) InFlight() int {
	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()
	return len(e.streams)
}

// OpenStream sends req as a new HTTP/2 stream and returns once its
// response headers have arrived.
func (e *Engine) OpenStream(ctx context.Context, req *model.Request) (*model.Response, error) {
	id := atomic.AddUint32(&e.nextStreamID, 2) - 2

	e.settingsMu.Lock()
	initialSendWindow := int64(e.peerSettings.InitialWindowSize)
	e.settingsMu.Unlock()
	st := newStream(id, e, initialSendWindow)

	if err := e.acquireStreamSlot(ctx, id, st); err != nil {
		return nil, err
	}

	if err := e.sendHeaders(ctx, id, st, req); err != nil {
		e.removeStream(id)
		return nil, err
	}

	return st.waitHeaders(ctx)
}

// acquireStreamSlot blocks until fewer than Capacity() streams are
// open, then registers st under id.
func (e *Engine) acquireStreamSlot(ctx context.Context, id uint32, st *Stream) error {
	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()

	ready := func() bool { return uint32(len(e.streams)) < e.maxConcurrentStreams.Load() }
	if err := waitCond(ctx, &e.streamsMu, e.streamCond, ready); err != nil {
		return err
	}
	e.streams[id] = st
	return nil
}

func (e *Engine) sendHeaders(ctx context.Context, id uint32, st *Stream, req *model.Request) error {
	e.writeMu.Lock()

	e.hencBuf.Reset()
	authority := req.URL.Host
	if req.URL.Port != model.DefaultPort(req.URL.Scheme) {
		authority = fmt.Sprintf("%s:%d", req.URL.Host, req.URL.Port)
	}

	_ = e.henc.WriteField(hpack.HeaderField{Name: ":method", Value: req.Method})
	_ = e.henc.WriteField(hpack.HeaderField{Name: ":scheme", Value: req.URL.Scheme})
	_ = e.henc.WriteField(hpack.HeaderField{Name: ":authority", Value: authority})
	_ = e.henc.WriteField(hpack.HeaderField{Name: ":path", Value: req.URL.Target})

	for _, f := range req.Header {
		_ = e.henc.WriteField(hpack.HeaderField{Name: toLower(f.Name), Value: f.Value})
	}

	endStream := req.Body == nil

	err := e.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: e.hencBuf.Bytes(),
		EndHeaders:    true,
		EndStream:     endStream,
	})
	// writeData takes writeMu per frame, so release it before the body.
	e.writeMu.Unlock()
	if err != nil {
		return errors.NewLocalProtocolError(err)
	}

	if !endStream {
		return e.sendBody(ctx, id, st, req)
	}
	return nil
}

// sendBody emits req's body as DATA frames, blocking until enough
// connection-level and stream-level send-window credit is available
// before each write (RFC 7540 §6.9).
func (e *Engine) sendBody(ctx context.Context, id uint32, st *Stream, req *model.Request) error {
	for {
		chunk, err := req.Body.Next(ctx)
		if err == io.EOF {
			return e.writeData(ctx, id, st, nil, true)
		}
		if err != nil {
			return errors.NewLocalProtocolError(err)
		}
		if err := e.writeData(ctx, id, st, chunk, false); err != nil {
			return err
		}
	}
}

// writeData writes data as one or more DATA frames, splitting on
// whatever send-window credit is granted at each step, then writes a
// final empty END_STREAM frame if endStream is set.
func (e *Engine) writeData(ctx context.Context, id uint32, st *Stream, data []byte, endStream bool) error {
	for len(data) > 0 {
		n, err := e.acquireSendWindow(ctx, st, len(data))
		if err != nil {
			return err
		}
		e.writeMu.Lock()
		werr := e.framer.WriteData(id, false, data[:n])
		e.writeMu.Unlock()
		if werr != nil {
			return errors.NewLocalProtocolError(werr)
		}
		data = data[n:]
	}
	if endStream {
		e.writeMu.Lock()
		werr := e.framer.WriteData(id, true, nil)
		e.writeMu.Unlock()
		if werr != nil {
			return errors.NewLocalProtocolError(werr)
		}
	}
	return nil
}

// acquireSendWindow blocks until both the connection-level and
// st's stream-level send window have credit, then debits up to want
// bytes (capped by the peer's advertised max frame size) from both
// and returns the amount granted.
func (e *Engine) acquireSendWindow(ctx context.Context, st *Stream, want int) (int, error) {
	e.settingsMu.Lock()
	maxFrame := int(e.peerSettings.MaxFrameSize)
	e.settingsMu.Unlock()
	if want > maxFrame {
		want = maxFrame
	}

	e.sendWindowMu.Lock()
	defer e.sendWindowMu.Unlock()

	ready := func() bool { return e.connSendWindow > 0 && st.sendWindow > 0 }
	if err := waitCond(ctx, &e.sendWindowMu, e.sendWindowCond, ready); err != nil {
		return 0, err
	}

	grant := int64(want)
	if e.connSendWindow < grant {
		grant = e.connSendWindow
	}
	if st.sendWindow < grant {
		grant = st.sendWindow
	}
	e.connSendWindow -= grant
	st.sendWindow -= grant
	return int(grant), nil
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// resetStream sends RST_STREAM(CANCEL) for id, used when a caller
// closes a response body before it is exhausted.
func (e *Engine) resetStream(id uint32) {
	e.writeMu.Lock()
	_ = e.framer.WriteRSTStream(id, http2.ErrCodeCancel)
	e.writeMu.Unlock()
	e.removeStream(id)
}

// Close sends GOAWAY and closes the underlying stream.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.writeMu.Lock()
	_ = e.framer.WriteGoAway(0, http2.ErrCodeNo, nil)
	e.writeMu.Unlock()
	return e.stream.Close()
}

func (e *Engine) readLoop() {
	defer close(e.readDone)
	for {
		f, err := e.framer.ReadFrame()
		if err != nil {
			e.readErr = errors.NewRemoteProtocolError(err)
			e.failAllStreams(e.readErr)
			return
		}

		switch frame := f.(type) {
		case *http2.SettingsFrame:
			e.handleSettings(frame)
		case *http2.HeadersFrame:
			e.handleHeaders(frame)
		case *http2.DataFrame:
			e.handleData(frame)
		case *http2.WindowUpdateFrame:
			e.handleWindowUpdate(frame)
		case *http2.PingFrame:
			e.handlePing(frame)
		case *http2.GoAwayFrame:
			e.failAllStreams(errors.NewRemoteProtocolError(errors.Newf("GOAWAY received: %v", frame.ErrCode)))
			return
		case *http2.RSTStreamFrame:
			e.handleRSTStream(frame)
		case *http2.PushPromiseFrame:
			// Server push is not supported; refuse every pushed stream.
			e.writeMu.Lock()
			_ = e.framer.WriteRSTStream(frame.PromiseID, http2.ErrCodeRefusedStream)
			e.writeMu.Unlock()
		}
	}
}

func (e *Engine) handleSettings(f *http2.SettingsFrame) {
	if f.IsAck() {
		return
	}

	e.settingsMu.Lock()
	e.peerSettings.Apply(f)
	maxStreams := e.peerSettings.MaxConcurrentStreams
	e.settingsMu.Unlock()

	e.maxConcurrentStreams.Store(maxStreams)
	e.streamsMu.Lock()
	e.streamCond.Broadcast() // capacity may have grown
	e.streamsMu.Unlock()

	e.writeMu.Lock()
	_ = e.framer.WriteSettingsAck()
	e.writeMu.Unlock()
}

func (e *Engine) handlePing(f *http2.PingFrame) {
	if f.IsAck() {
		return
	}
	e.writeMu.Lock()
	_ = e.framer.WritePing(true, f.Data)
	e.writeMu.Unlock()
}

func (e *Engine) handleWindowUpdate(f *http2.WindowUpdateFrame) {
	e.sendWindowMu.Lock()
	defer e.sendWindowMu.Unlock()

	if f.StreamID == 0 {
		e.connSendWindow += int64(f.Increment)
		e.sendWindowCond.Broadcast()
		return
	}
	st := e.getStream(f.StreamID)
	if st != nil {
		st.sendWindow += int64(f.Increment)
		e.sendWindowCond.Broadcast()
	}
}

func (e *Engine) handleRSTStream(f *http2.RSTStreamFrame) {
	st := e.getStream(f.StreamID)
	if st == nil {
		return
	}
	e.deliverHeadersError(st, errors.NewRemoteProtocolError(errors.Newf("stream reset: %v", f.ErrCode)))
	st.signalClosed()
	e.removeStream(f.StreamID)
}

func (e *Engine) handleHeaders(f *http2.HeadersFrame) {
	st := e.getStream(f.StreamID)
	if st == nil {
		return
	}

	e.hdecMu.Lock()
	fields, err := e.hdec.DecodeFull(f.HeaderBlockFragment())
	e.hdecMu.Unlock()
	if err != nil {
		e.deliverHeadersError(st, errors.NewRemoteProtocolError(err))
		return
	}

	status := 0
	var hdr model.Header
	for _, field := range fields {
		if field.Name == ":status" {
			fmt.Sscanf(field.Value, "%d", &status)
			continue
		}
		hdr = hdr.Add(field.Name, field.Value)
	}

	resp := model.Response{
		Status: status,
		Header: hdr,
		Extensions: model.ResponseExtensions{
			HTTPVersion: "HTTP/2",
			StreamID:    f.StreamID,
		},
	}

	select {
	case st.headers <- resp:
	default:
	}

	if f.StreamEnded() {
		st.signalClosed()
		close(st.dataCh)
		e.removeStream(f.StreamID)
	}
}

// handleData charges the received bytes against the stream's and the
// connection's receive windows, delivers the payload to the stream's
// consumer, and resets the stream if the peer has overrun either
// window. It never sends WINDOW_UPDATE itself: credit is only
// restored once the caller actually drains the data via streamBody.Next,
// so the peer is throttled by real consumption rather than by how
// quickly frames arrive off the wire.
func (e *Engine) handleData(f *http2.DataFrame) {
	st := e.getStream(f.StreamID)
	if st == nil {
		return
	}

	data := f.Data()
	if len(data) > 0 {
		if !e.chargeRecvWindow(st, len(data)) {
			return
		}

		cp := append([]byte(nil), data...)
		select {
		case st.dataCh <- cp:
		case <-st.closedCh:
		}
	}

	if f.StreamEnded() {
		st.signalClosed()
		close(st.dataCh)
		e.removeStream(f.StreamID)
	}
}

// chargeRecvWindow debits n bytes from st's and the connection's
// receive windows. A peer that sends more than it was ever granted
// violates RFC 7540 §6.9.1; the stream (or, for a connection-level
// violation, the whole connection) is torn down rather than silently
// accepted.
func (e *Engine) chargeRecvWindow(st *Stream, n int) bool {
	if st.recvWindow.Add(-int64(n)) < 0 {
		e.writeMu.Lock()
		_ = e.framer.WriteRSTStream(st.id, http2.ErrCodeFlowControl)
		e.writeMu.Unlock()
		e.deliverHeadersError(st, errors.NewRemoteProtocolError(errors.New("peer exceeded stream flow-control window")))
		st.signalClosed()
		e.removeStream(st.id)
		return false
	}
	if e.connRecvWindow.Add(-int64(n)) < 0 {
		e.failAllStreams(errors.NewRemoteProtocolError(errors.New("peer exceeded connection flow-control window")))
		_ = e.Close()
		return false
	}
	return true
}

// creditRecvWindow restores n bytes of receive-window credit to st
// and the connection, and tells the peer via WINDOW_UPDATE. Called by
// streamBody.Next as the caller actually consumes a chunk.
func (e *Engine) creditRecvWindow(st *Stream, n int) {
	if n <= 0 {
		return
	}
	st.recvWindow.Add(int64(n))
	e.connRecvWindow.Add(int64(n))

	e.writeMu.Lock()
	_ = e.framer.WriteWindowUpdate(0, uint32(n))
	_ = e.framer.WriteWindowUpdate(st.id, uint32(n))
	e.writeMu.Unlock()
}

func (e *Engine) getStream(id uint32) *Stream {
	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()
	return e.streams[id]
}

// removeStream drops id from the stream table and wakes any
// OpenStream call blocked in acquireStreamSlot waiting for capacity.
func (e *Engine) removeStream(id uint32) {
	e.streamsMu.Lock()
	delete(e.streams, id)
	e.streamCond.Broadcast()
	e.streamsMu.Unlock()
}

func (e *Engine) deliverHeadersError(st *Stream, err error) {
	select {
	case st.headersErr <- err:
	default:
	}
	select {
	case st.dataErr <- err:
	default:
	}
}

func (e *Engine) failAllStreams(err error) {
	e.streamsMu.Lock()
	streams := make([]*Stream, 0, len(e.streams))
	for _, st := range e.streams {
		streams = append(streams, st)
	}
	e.streams = make(map[uint32]*Stream)
	e.streamsMu.Unlock()

	for _, st := range streams {
		e.deliverHeadersError(st, err)
	}
}

// streamReadWriter adapts network.Stream's context-taking Read/Write
// to the plain io.Reader/io.Writer http2.Framer needs.
type streamReadWriter struct {
	ctx context.Context
	s   network.Stream
}

func (rw *streamReadWriter) Read(p []byte) (int, error) {
	return rw.s.Read(rw.ctx, p)
}

func (rw *streamReadWriter) Write(p []byte) (int, error) {
	return rw.s.Write(rw.ctx, p)
}
