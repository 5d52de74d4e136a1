package http2

import (
	"bytes"
	"context"
	"io"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	netlib "golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/stretchr/testify/require"

	"wayfare/pkg/model"
)

// serverHandshake plays the server side of the preface/SETTINGS
// exchange and returns a framer ready for test-specific frame
// traffic.
func serverHandshake(t *testing.T, conn net.Conn) *netlib.Framer {
	t.Helper()

	r := &pipeBufReader{conn: conn}
	preface := make([]byte, len(clientPreface))
	_, err := io.ReadFull(r, preface)
	require.NoError(t, err)
	require.Equal(t, clientPreface, string(preface))

	framer := netlib.NewFramer(conn, r)

	f, err := framer.ReadFrame() // client SETTINGS
	require.NoError(t, err)
	_, ok := f.(*netlib.SettingsFrame)
	require.True(t, ok)

	require.NoError(t, framer.WriteSettings())
	require.NoError(t, framer.WriteSettingsAck())

	return framer
}

// pipeBufReader is a plain io.Reader over conn, used only to satisfy
// io.ReadFull while reading the client preface before a framer takes
// over the connection.
type pipeBufReader struct{ conn net.Conn }

func (r *pipeBufReader) Read(p []byte) (int, error) { return r.conn.Read(p) }

// readFrameSkippingSettings reads frames until one that is not a
// SETTINGS frame (including SETTINGS ACKs) arrives: the client's own
// SETTINGS ACK can interleave with whatever the test cares about.
func readFrameSkippingSettings(t *testing.T, framer *netlib.Framer) netlib.Frame {
	t.Helper()
	for {
		f, err := framer.ReadFrame()
		require.NoError(t, err)
		if _, ok := f.(*netlib.SettingsFrame); ok {
			continue
		}
		return f
	}
}

func writeStatusOK(t *testing.T, framer *netlib.Framer, streamID uint32, endStream bool) {
	t.Helper()
	var buf bytes.Buffer
	henc := hpack.NewEncoder(&buf)
	require.NoError(t, henc.WriteField(hpack.HeaderField{Name: ":status", Value: "200"}))
	require.NoError(t, framer.WriteHeaders(netlib.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: buf.Bytes(),
		EndHeaders:    true,
		EndStream:     endStream,
	}))
}

// TestEngineHandlesConcurrentStreams opens ten requests at once over a
// single connection and checks each is assigned its own odd client
// stream ID, 1 through 19, and answered independently.
func TestEngineHandlesConcurrentStreams(t *testing.T) {
	const n = 10

	client, server := net.Pipe()
	defer server.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		framer := serverHandshake(t, server)

		seen := make(map[uint32]bool)
		for len(seen) < n {
			f := readFrameSkippingSettings(t, framer)
			hf, ok := f.(*netlib.HeadersFrame)
			if !ok {
				continue
			}
			seen[hf.StreamID] = true
			writeStatusOK(t, framer, hf.StreamID, true)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	engine, err := New(ctx, &pipeStream{conn: client})
	require.NoError(t, err)

	var wg sync.WaitGroup
	ids := make([]uint32, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := &model.Request{Method: "GET", URL: model.URL{Scheme: "https", Host: "example.com", Port: 443, Target: "/"}}
			resp, err := engine.OpenStream(ctx, req)
			require.NoError(t, err)
			require.Equal(t, 200, resp.Status)
			ids[i] = resp.Extensions.StreamID
		}()
	}
	wg.Wait()
	<-serverDone

	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	for i, id := range ids {
		require.Equal(t, uint32(1+2*i), id)
	}
}

// TestEnginePingIsAcked checks that an unsolicited PING from the peer
// is answered with a PING ACK carrying the same payload.
func TestEnginePingIsAcked(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ackSeen := make(chan [8]byte, 1)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		framer := serverHandshake(t, server)

		var data [8]byte
		copy(data[:], "ping1234")
		require.NoError(t, framer.WritePing(false, data))

		for {
			f, err := framer.ReadFrame()
			require.NoError(t, err)
			pf, ok := f.(*netlib.PingFrame)
			if !ok {
				continue
			}
			require.True(t, pf.IsAck())
			ackSeen <- pf.Data
			return
		}
	}()

	engine, err := New(ctx, &pipeStream{conn: client})
	require.NoError(t, err)
	defer engine.Close()

	select {
	case got := <-ackSeen:
		require.Equal(t, "ping1234", string(got[:]))
	case <-time.After(2 * time.Second):
		t.Fatal("server never received a PING ack")
	}
	<-serverDone
}

// TestEngineGoAwayFailsPendingStream checks that a GOAWAY arriving
// while a stream awaits its response headers fails that stream
// instead of hanging.
func TestEngineGoAwayFailsPendingStream(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		framer := serverHandshake(t, server)

		_ = readFrameSkippingSettings(t, framer) // the client's HEADERS
		require.NoError(t, framer.WriteGoAway(0, netlib.ErrCodeNo, nil))
	}()

	engine, err := New(ctx, &pipeStream{conn: client})
	require.NoError(t, err)

	req := &model.Request{Method: "GET", URL: model.URL{Scheme: "https", Host: "example.com", Port: 443, Target: "/"}}
	_, err = engine.OpenStream(ctx, req)
	require.Error(t, err)

	<-serverDone
}

// TestEngineSendRespectsFlowControl checks that a request body larger
// than the default 65535-byte initial window stalls exactly at the
// window boundary and only continues once the peer grants more
// credit via WINDOW_UPDATE.
func TestEngineSendRespectsFlowControl(t *testing.T) {
	const bodySize = 70000 // exceeds DefaultSettings().InitialWindowSize

	client, server := net.Pipe()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	unblocked := make(chan struct{})
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		framer := serverHandshake(t, server)

		var hf *netlib.HeadersFrame
		for hf == nil {
			f := readFrameSkippingSettings(t, framer)
			if h, ok := f.(*netlib.HeadersFrame); ok {
				hf = h
			}
		}

		received := 0
		ended := false
		for received < 65535 && !ended {
			f, err := framer.ReadFrame()
			require.NoError(t, err)
			df, ok := f.(*netlib.DataFrame)
			if !ok {
				continue
			}
			received += len(df.Data())
			ended = df.StreamEnded()
		}
		require.False(t, ended, "engine sent past the initial send window before any WINDOW_UPDATE")
		require.Equal(t, 65535, received)
		close(unblocked)

		require.NoError(t, framer.WriteWindowUpdate(0, uint32(bodySize)))
		require.NoError(t, framer.WriteWindowUpdate(hf.StreamID, uint32(bodySize)))

		for !ended {
			f, err := framer.ReadFrame()
			require.NoError(t, err)
			df, ok := f.(*netlib.DataFrame)
			if !ok {
				continue
			}
			received += len(df.Data())
			ended = df.StreamEnded()
		}
		require.Equal(t, bodySize, received)

		writeStatusOK(t, framer, hf.StreamID, true)
	}()

	engine, err := New(ctx, &pipeStream{conn: client})
	require.NoError(t, err)

	req := &model.Request{
		Method: "POST",
		URL:    model.URL{Scheme: "https", Host: "example.com", Port: 443, Target: "/"},
		Body:   model.NewBytesBody(make([]byte, bodySize)),
	}

	done := make(chan struct{})
	go func() {
		resp, err := engine.OpenStream(ctx, req)
		require.NoError(t, err)
		require.Equal(t, 200, resp.Status)
		close(done)
	}()

	<-unblocked
	select {
	case <-done:
		t.Fatal("request completed before the peer granted more send window")
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("request never completed after WINDOW_UPDATE")
	}
	<-serverDone
}

// TestEngineDeliversAllDataFramesWithoutDropping sends more DATA
// frames than the old fixed 16-slot non-blocking channel could hold,
// checking none of it is silently lost.
func TestEngineDeliversAllDataFramesWithoutDropping(t *testing.T) {
	const frameCount = 30
	const frameSize = 100

	client, server := net.Pipe()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		framer := serverHandshake(t, server)

		var hf *netlib.HeadersFrame
		for hf == nil {
			f := readFrameSkippingSettings(t, framer)
			if h, ok := f.(*netlib.HeadersFrame); ok {
				hf = h
			}
		}

		writeStatusOK(t, framer, hf.StreamID, false)

		for i := 0; i < frameCount; i++ {
			chunk := bytes.Repeat([]byte{byte(i)}, frameSize)
			require.NoError(t, framer.WriteData(hf.StreamID, i == frameCount-1, chunk))
		}

		for {
			if _, err := framer.ReadFrame(); err != nil {
				return
			}
		}
	}()

	engine, err := New(ctx, &pipeStream{conn: client})
	require.NoError(t, err)

	req := &model.Request{Method: "GET", URL: model.URL{Scheme: "https", Host: "example.com", Port: 443, Target: "/"}}
	resp, err := engine.OpenStream(ctx, req)
	require.NoError(t, err)

	total := 0
	for {
		chunk, err := resp.Body.Next(ctx)
		total += len(chunk)
		if err != nil {
			require.Equal(t, io.EOF, err)
			break
		}
	}
	require.Equal(t, frameCount*frameSize, total)

	<-serverDone
}

// TestEnginePushPromiseRejected checks that an unsolicited
// PUSH_PROMISE is refused with RST_STREAM(REFUSED_STREAM) and does
// not disturb the stream it was promised on behalf of.
func TestEnginePushPromiseRejected(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		framer := serverHandshake(t, server)

		var hf *netlib.HeadersFrame
		for hf == nil {
			f := readFrameSkippingSettings(t, framer)
			if h, ok := f.(*netlib.HeadersFrame); ok {
				hf = h
			}
		}

		var pushBuf bytes.Buffer
		penc := hpack.NewEncoder(&pushBuf)
		require.NoError(t, penc.WriteField(hpack.HeaderField{Name: ":method", Value: "GET"}))
		require.NoError(t, penc.WriteField(hpack.HeaderField{Name: ":path", Value: "/style.css"}))
		require.NoError(t, framer.WritePushPromise(netlib.PushPromiseParam{
			StreamID:      hf.StreamID,
			PromiseID:     2,
			BlockFragment: pushBuf.Bytes(),
			EndHeaders:    true,
		}))

		for {
			f, err := framer.ReadFrame()
			require.NoError(t, err)
			rf, ok := f.(*netlib.RSTStreamFrame)
			if !ok {
				continue
			}
			require.Equal(t, uint32(2), rf.StreamID)
			require.Equal(t, netlib.ErrCodeRefusedStream, rf.ErrCode)
			break
		}

		writeStatusOK(t, framer, hf.StreamID, true)
	}()

	engine, err := New(ctx, &pipeStream{conn: client})
	require.NoError(t, err)

	req := &model.Request{Method: "GET", URL: model.URL{Scheme: "https", Host: "example.com", Port: 443, Target: "/"}}
	resp, err := engine.OpenStream(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)

	<-serverDone
}
