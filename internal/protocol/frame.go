// Package protocol implements the Gel/EdgeDB binary wire framing, the
// primitive value encoders/decoders, and the client/server message schema
// (spec.md §3.1, §4.1 — components A and B).
package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrEndOfStream is returned when the underlying reader reports a clean
// EOF with no partial frame pending — spec.md §4.1 "a zero-length read
// terminates with a distinguished end-of-stream error".
var ErrEndOfStream = errors.New("protocol: end of stream")

const (
	initialReadBuf = 8 * 1024
	maxReadBuf     = 1 * 1024 * 1024
)

// Frame is one decoded wire frame: the tag byte and the payload bytes that
// followed the length field (the length field itself is not retained).
type Frame struct {
	Tag     byte
	Payload []byte
}

// FrameReader is a streaming frame decoder over an io.Reader, modeled on
// the teacher's authenticatePG/readMySQLPoolPacket read loops
// (internal/pool/pool.go) generalized to the tag+u32-length Gel framing.
type FrameReader struct {
	r   io.Reader
	buf []byte // bytes read but not yet consumed into a frame
}

// NewFrameReader creates a FrameReader over r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, buf: make([]byte, 0, initialReadBuf)}
}

// ReadFrame blocks until one full frame is available and returns it. The
// returned Payload slice is only valid until the next call to ReadFrame.
func (fr *FrameReader) ReadFrame() (Frame, error) {
	for {
		if f, ok := fr.tryExtract(); ok {
			return f, nil
		}
		if err := fr.fill(); err != nil {
			return Frame{}, err
		}
	}
}

// tryExtract attempts to split one frame off the front of the buffer.
func (fr *FrameReader) tryExtract() (Frame, bool) {
	// tag(1) + length(4, big-endian, includes itself) + payload.
	if len(fr.buf) < 5 {
		return Frame{}, false
	}
	length := binary.BigEndian.Uint32(fr.buf[1:5])
	total := 1 + int(length) // tag byte + the length-prefixed region
	if len(fr.buf) < total {
		return Frame{}, false
	}

	tag := fr.buf[0]
	payload := make([]byte, total-5)
	copy(payload, fr.buf[5:total])

	remaining := len(fr.buf) - total
	copy(fr.buf, fr.buf[total:])
	fr.buf = fr.buf[:remaining]

	return Frame{Tag: tag, Payload: payload}, true
}

// fill reads more bytes into the buffer, reserving
// max(min(need - have, 1MiB), 8KiB) capacity per spec.md §4.1.
func (fr *FrameReader) fill() error {
	have := len(fr.buf)
	need := 5 - have
	if need < 0 {
		need = 0
	}
	if have >= 5 {
		length := binary.BigEndian.Uint32(fr.buf[1:5])
		total := 1 + int(length)
		if total > have {
			need = total - have
		}
	}

	grow := need
	if grow > maxReadBuf {
		grow = maxReadBuf
	}
	if grow < initialReadBuf {
		grow = initialReadBuf
	}

	if cap(fr.buf)-len(fr.buf) < grow {
		newBuf := make([]byte, len(fr.buf), len(fr.buf)+grow)
		copy(newBuf, fr.buf)
		fr.buf = newBuf
	}

	readInto := fr.buf[len(fr.buf):min(len(fr.buf)+grow, cap(fr.buf))]
	n, err := fr.r.Read(readInto)
	if n > 0 {
		fr.buf = fr.buf[:len(fr.buf)+n]
	}
	if n == 0 && err == nil {
		return ErrEndOfStream
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			if n == 0 {
				return ErrEndOfStream
			}
			return nil
		}
		return err
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// WriteFrame wraps a payload (typically a Writer's Bytes(), see
// primitives.go) with the tag and length header, mirroring the teacher's
// manual append(msgLen, body...) construction in authenticatePG/sendPasswordMessage.
func WriteFrame(tag byte, payload []byte) []byte {
	buf := make([]byte, 0, 5+len(payload))
	buf = append(buf, tag)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(4+len(payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)
	return buf
}
