// Package http1 implements a from-scratch HTTP/1.1 client engine:
// request-line/header emission, body framing (Content-Length vs
// chunked), response parsing, and the keep-alive state machine that
// decides whether a connection may be reused afterward.
package http1

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"wayfare/pkg/helper/errors"
	"wayfare/pkg/model"
	"wayfare/pkg/network"
)

// State is the engine's position in the request/response cycle:
// IDLE -> SEND_HEADERS -> SEND_BODY -> RECV_HEADERS -> RECV_BODY ->
// DONE, looping back to IDLE on a reusable connection, or CLOSED.
type State int

const (
	StateIdle State = iota
	StateSendHeaders
	StateSendBody
	StateRecvHeaders
	StateRecvBody
	StateDone
	StateClosed
)

// Engine drives one HTTP/1.1 request/response exchange over a
// network.Stream. An Engine is not reusable across connections but is
// reused across requests on the same keep-alive connection.
type Engine struct {
	stream network.Stream
	state  State

	reader *bufio.Reader
	writer *bufio.Writer

	// keepAlive reports whether the last exchange left the connection
	// reusable; CanReuse reads this after Do returns.
	keepAlive bool
}

// New wraps stream in an Engine ready to drive requests.
func New(stream network.Stream) *Engine {
	return &Engine{
		stream: stream,
		state:  StateIdle,
		reader: bufio.NewReader(&streamReader{ctx: context.Background(), s: stream}),
		writer: bufio.NewWriter(&streamWriter{ctx: context.Background(), s: stream}),
	}
}

// CanReuse reports whether the connection is eligible for another
// request after the most recent Do call.
func (e *Engine) CanReuse() bool {
	return e.state == StateIdle && e.keepAlive
}

// Do sends req and returns its response. forwardProxy controls whether
// the request line uses absolute-form (http:// through a forward
// proxy) or origin-form (direct or tunneled).
func (e *Engine) Do(ctx context.Context, req *model.Request, forwardProxy bool) (*model.Response, error) {
	if e.state == StateClosed {
		return nil, errors.NewLocalProtocolError(errors.New("engine is closed"))
	}

	e.setDeadline(ctx)
	e.state = StateSendHeaders

	if err := e.writeRequestLine(req, forwardProxy); err != nil {
		e.state = StateClosed
		return nil, err
	}
	if err := e.writeHeaders(req); err != nil {
		e.state = StateClosed
		return nil, err
	}

	e.state = StateSendBody
	chunked, err := e.writeBody(ctx, req)
	if err != nil {
		e.state = StateClosed
		return nil, err
	}
	_ = chunked

	if err := e.writer.Flush(); err != nil {
		e.state = StateClosed
		return nil, errors.NewNetworkError(errors.NetworkWrite, err)
	}

	e.state = StateRecvHeaders
	resp, err := e.readResponse(ctx, req.Method)
	if err != nil {
		e.state = StateClosed
		return nil, err
	}

	// A bodyless response has already gone back to IDLE via onBodyDone.
	if e.state == StateRecvHeaders {
		e.state = StateRecvBody
	}
	return resp, nil
}

// onBodyDone is called once the response body is exhausted or closed
// early; it finalizes keepAlive and transitions back to IDLE (or
// CLOSED if the connection could not be cleanly drained).
func (e *Engine) onBodyDone(clean bool) {
	if clean && e.keepAlive {
		e.state = StateIdle
	} else {
		e.state = StateClosed
		_ = e.stream.Close()
	}
}

func (e *Engine) setDeadline(ctx context.Context) {
	if dl, ok := ctx.Deadline(); ok {
		_ = e.stream.SetDeadline(dl)
	}
}

func (e *Engine) writeRequestLine(req *model.Request, forwardProxy bool) error {
	target := req.URL.Target
	if forwardProxy {
		target = req.URL.String()
	}
	_, err := fmt.Fprintf(e.writer, "%s %s HTTP/1.1\r\n", req.Method, target)
	if err != nil {
		return errors.NewNetworkError(errors.NetworkWrite, err)
	}
	return nil
}

func (e *Engine) writeHeaders(req *model.Request) error {
	hdr := req.Header
	if !hdr.Has("Host") {
		hdr = append(model.Header{{Name: "Host", Value: hostHeader(req)}}, hdr...)
	}
	if req.Body != nil && !hdr.Has("Content-Length") && !hdr.Has("Transfer-Encoding") {
		hdr = hdr.Clone().Add("Transfer-Encoding", "chunked")
	}

	for _, f := range hdr {
		if _, err := fmt.Fprintf(e.writer, "%s: %s\r\n", f.Name, f.Value); err != nil {
			return errors.NewNetworkError(errors.NetworkWrite, err)
		}
	}
	if _, err := e.writer.WriteString("\r\n"); err != nil {
		return errors.NewNetworkError(errors.NetworkWrite, err)
	}
	return nil
}

func hostHeader(req *model.Request) string {
	if (req.URL.Scheme == "http" && req.URL.Port == 80) || (req.URL.Scheme == "https" && req.URL.Port == 443) {
		return req.URL.Host
	}
	return fmt.Sprintf("%s:%d", req.URL.Host, req.URL.Port)
}

// writeBody emits the request body, choosing Content-Length framing
// when the caller declared one and chunked transfer-encoding
// otherwise (RFC 7230 §3.3.3). It reports whether chunked framing was
// used.
func (e *Engine) writeBody(ctx context.Context, req *model.Request) (bool, error) {
	if req.Body == nil {
		return false, nil
	}

	chunked := !req.Header.Has("Content-Length")

	for {
		chunk, err := req.Body.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return chunked, errors.NewLocalProtocolError(err)
		}

		if chunked {
			if err := writeChunk(e.writer, chunk); err != nil {
				return chunked, errors.NewNetworkError(errors.NetworkWrite, err)
			}
		} else if _, err := e.writer.Write(chunk); err != nil {
			return chunked, errors.NewNetworkError(errors.NetworkWrite, err)
		}
	}

	if chunked {
		if err := writeChunk(e.writer, nil); err != nil {
			return chunked, errors.NewNetworkError(errors.NetworkWrite, err)
		}
	}

	return chunked, nil
}

// readResponse parses the status line, headers, and determines body
// framing per RFC 7230 §3.3.3: no body for HEAD/1xx/204/304,
// chunked if Transfer-Encoding names it, Content-Length if present,
// otherwise read until the connection closes.
func (e *Engine) readResponse(ctx context.Context, method string) (*model.Response, error) {
	statusLine, err := e.reader.ReadString('\n')
	if err != nil {
		return nil, errors.NewRemoteProtocolError(err)
	}
	status, reason, err := parseStatusLine(statusLine)
	if err != nil {
		return nil, err
	}

	hdr, err := e.readHeaderBlock()
	if err != nil {
		return nil, err
	}

	e.keepAlive = computeKeepAlive(hdr)

	ext := model.ResponseExtensions{
		HTTPVersion:  "HTTP/1.1",
		ReasonPhrase: reason,
	}

	var body model.BodyStream
	if isUpgradeResponse(method, status) {
		// The response body is no longer HTTP-framed: everything past
		// the header block belongs to whatever protocol took over
		// (the CONNECT tunnel's far end, or the Upgrade target), so
		// the engine stops parsing and surrenders the raw stream.
		e.keepAlive = false
		ext.NetworkStream = &connectStream{reader: e.reader, stream: e.stream}
		body = model.NewBytesBody(nil)
	} else {
		body = e.bodyForResponse(ctx, method, status, hdr)
	}

	return &model.Response{
		Status:     status,
		Header:     hdr,
		Body:       body,
		Extensions: ext,
	}, nil
}

// isUpgradeResponse reports whether resp leaves HTTP/1.1 framing
// behind: a successful reply to a CONNECT request, or any 101
// Switching Protocols response.
func isUpgradeResponse(method string, status int) bool {
	return status == 101 || (method == "CONNECT" && status >= 200 && status < 300)
}

func parseStatusLine(line string) (int, string, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, "", errors.NewRemoteProtocolError(errors.Newf("malformed status line %q", line))
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", errors.NewRemoteProtocolError(errors.Wrapf(err, "malformed status code %q", parts[1]))
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return status, reason, nil
}

func (e *Engine) readHeaderBlock() (model.Header, error) {
	var hdr model.Header
	for {
		line, err := e.reader.ReadString('\n')
		if err != nil {
			return nil, errors.NewRemoteProtocolError(err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, errors.NewRemoteProtocolError(errors.Newf("malformed header line %q", line))
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		hdr = hdr.Add(name, value)
	}
	return hdr, nil
}

func computeKeepAlive(hdr model.Header) bool {
	if v, ok := hdr.Get("Connection"); ok {
		if strings.EqualFold(strings.TrimSpace(v), "close") {
			return false
		}
		if strings.EqualFold(strings.TrimSpace(v), "keep-alive") {
			return true
		}
	}
	return true // HTTP/1.1 default
}

// bodyForResponse determines body length per RFC 7230 §3.3.3 and
// returns a BodyStream that, once exhausted, marks the connection
// idle again (or closed if it could not cleanly finish).
func (e *Engine) bodyForResponse(ctx context.Context, method string, status int, hdr model.Header) model.BodyStream {
	if method == "HEAD" || status == 204 || status == 304 || (status >= 100 && status < 200) {
		e.onBodyDone(true)
		return model.NewBytesBody(nil)
	}

	if te, ok := hdr.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(te), "chunked") {
		return &chunkedBody{engine: e, reader: e.reader}
	}

	if cl, ok := hdr.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err == nil {
			return &fixedLengthBody{engine: e, reader: e.reader, remaining: n}
		}
	}

	// No framing information: body runs until the connection closes.
	e.keepAlive = false
	return &closeDelimitedBody{engine: e, reader: e.reader}
}

type chunkedBody struct {
	engine *Engine
	reader *bufio.Reader
	done   bool
}

func (b *chunkedBody) Next(ctx context.Context) ([]byte, error) {
	if b.done {
		return nil, io.EOF
	}
	data, final, err := readChunk(b.reader)
	if err != nil {
		b.done = true
		b.engine.onBodyDone(false)
		return nil, err
	}
	if final {
		b.done = true
		b.engine.onBodyDone(true)
		return nil, io.EOF
	}
	return data, nil
}

func (b *chunkedBody) Close() error {
	if !b.done {
		b.done = true
		b.engine.onBodyDone(false)
	}
	return nil
}

type fixedLengthBody struct {
	engine    *Engine
	reader    *bufio.Reader
	remaining int64
}

func (b *fixedLengthBody) Next(ctx context.Context) ([]byte, error) {
	if b.remaining <= 0 {
		b.engine.onBodyDone(true)
		return nil, io.EOF
	}
	bufSize := int64(32 * 1024)
	if b.remaining < bufSize {
		bufSize = b.remaining
	}
	buf := make([]byte, bufSize)
	n, err := b.reader.Read(buf)
	b.remaining -= int64(n)
	if err != nil && err != io.EOF {
		b.engine.onBodyDone(false)
		return nil, errors.NewRemoteProtocolError(err)
	}
	if n == 0 && err == io.EOF {
		b.engine.onBodyDone(false)
		return nil, errors.NewRemoteProtocolError(errors.New("connection closed before Content-Length bytes were received"))
	}
	return buf[:n], nil
}

func (b *fixedLengthBody) Close() error {
	if b.remaining > 0 {
		b.engine.onBodyDone(false)
		b.remaining = 0
	}
	return nil
}

type closeDelimitedBody struct {
	engine *Engine
	reader *bufio.Reader
	done   bool
}

func (b *closeDelimitedBody) Next(ctx context.Context) ([]byte, error) {
	if b.done {
		return nil, io.EOF
	}
	buf := make([]byte, 32*1024)
	n, err := b.reader.Read(buf)
	if err == io.EOF {
		b.done = true
		b.engine.onBodyDone(false) // close-delimited bodies never reuse the connection
		if n > 0 {
			return buf[:n], nil
		}
		return nil, io.EOF
	}
	if err != nil {
		b.done = true
		b.engine.onBodyDone(false)
		return nil, errors.NewRemoteProtocolError(err)
	}
	return buf[:n], nil
}

func (b *closeDelimitedBody) Close() error {
	if !b.done {
		b.done = true
		b.engine.onBodyDone(false)
	}
	return nil
}
