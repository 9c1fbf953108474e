package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestFrameReaderSingleFrame(t *testing.T) {
	wire := WriteFrame(TagSync, []byte("hello"))
	fr := NewFrameReader(bytes.NewReader(wire))

	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Tag != TagSync {
		t.Fatalf("tag = %q, want %q", f.Tag, TagSync)
	}
	if string(f.Payload) != "hello" {
		t.Fatalf("payload = %q, want %q", f.Payload, "hello")
	}
}

func TestFrameReaderMultipleFramesAcrossReads(t *testing.T) {
	var wire []byte
	wire = append(wire, WriteFrame(TagSync, []byte("a"))...)
	wire = append(wire, WriteFrame(TagFlush, []byte("bb"))...)

	// byteAtATimeReader forces tryExtract/fill to loop repeatedly.
	fr := NewFrameReader(&byteAtATimeReader{data: wire})

	f1, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame 1: %v", err)
	}
	if f1.Tag != TagSync || string(f1.Payload) != "a" {
		t.Fatalf("frame 1 = %+v", f1)
	}

	f2, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame 2: %v", err)
	}
	if f2.Tag != TagFlush || string(f2.Payload) != "bb" {
		t.Fatalf("frame 2 = %+v", f2)
	}
}

func TestFrameReaderEndOfStream(t *testing.T) {
	fr := NewFrameReader(bytes.NewReader(nil))
	_, err := fr.ReadFrame()
	if !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("err = %v, want ErrEndOfStream", err)
	}
}

func TestFrameReaderTruncatedFrameThenEOF(t *testing.T) {
	wire := WriteFrame(TagSync, []byte("hello"))
	fr := NewFrameReader(bytes.NewReader(wire[:len(wire)-2]))
	_, err := fr.ReadFrame()
	if !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("err = %v, want ErrEndOfStream", err)
	}
}

// byteAtATimeReader returns one byte per Read call to exercise fill()'s loop.
type byteAtATimeReader struct {
	data []byte
	pos  int
}

func (r *byteAtATimeReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}
