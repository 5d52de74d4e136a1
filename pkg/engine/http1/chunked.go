package http1

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/valyala/bytebufferpool"

	"wayfare/pkg/helper/errors"
)

// chunkPool draws buffers for chunk bodies from a real pool instead of
// allocating a new slice per chunk.
var chunkPool bytebufferpool.Pool

// readChunk reads one chunked-transfer-encoding chunk from r: the
// size line, the chunk data, and the trailing CRLF. A zero-size chunk
// signals the end of the body and any trailers are consumed and
// discarded.
func readChunk(r *bufio.Reader) ([]byte, bool, error) {
	sizeLine, err := r.ReadString('\n')
	if err != nil {
		return nil, false, errors.NewRemoteProtocolError(err)
	}
	sizeLine = strings.TrimRight(sizeLine, "\r\n")
	if idx := strings.IndexByte(sizeLine, ';'); idx >= 0 {
		sizeLine = sizeLine[:idx] // chunk extensions are ignored
	}

	size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
	if err != nil {
		return nil, false, errors.NewRemoteProtocolError(errors.Wrapf(err, "invalid chunk size %q", sizeLine))
	}

	if size == 0 {
		// Drain trailer fields up to the empty line.
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return nil, false, errors.NewRemoteProtocolError(err)
			}
			if strings.TrimRight(line, "\r\n") == "" {
				break
			}
		}
		return nil, true, nil
	}

	buf := chunkPool.Get()
	buf.B = buf.B[:0]
	if _, err := growAndRead(r, buf, int(size)); err != nil {
		chunkPool.Put(buf)
		return nil, false, errors.NewRemoteProtocolError(err)
	}

	// Consume the trailing CRLF after the chunk data.
	crlf := make([]byte, 2)
	if _, err := readFull(r, crlf); err != nil {
		chunkPool.Put(buf)
		return nil, false, errors.NewRemoteProtocolError(err)
	}

	data := append([]byte(nil), buf.B...)
	chunkPool.Put(buf)
	return data, false, nil
}

func growAndRead(r *bufio.Reader, buf *bytebufferpool.ByteBuffer, n int) (int, error) {
	buf.B = append(buf.B, make([]byte, n)...)
	return readFull(r, buf.B)
}

func readFull(r *bufio.Reader, p []byte) (int, error) {
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

// writeChunk writes one chunk of data in chunked transfer-encoding
// framing: hex size, CRLF, data, CRLF. A zero-length data slice writes
// the terminating zero chunk with no trailers.
func writeChunk(w *bufio.Writer, data []byte) error {
	if _, err := w.WriteString(strconv.FormatInt(int64(len(data)), 16)); err != nil {
		return err
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return nil
}
