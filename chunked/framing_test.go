package chunked

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func TestEncodeDecodeChunkFrame_RoundTrip(t *testing.T) {
	frame := ChunkFrame{Seq: 3, Data: []byte("hello world"), Final: false}

	encoded, err := EncodeChunkFrame(frame)
	if err != nil {
		t.Fatalf("EncodeChunkFrame: %v", err)
	}

	dec := NewFrameDecoder(bytes.NewReader(encoded))
	got, err := dec.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Seq != frame.Seq || string(got.Data) != string(frame.Data) || got.Final != frame.Final {
		t.Fatalf("got %+v, want %+v", got, frame)
	}
}

func TestFrameDecoder_MultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	frames := []ChunkFrame{
		{Seq: 0, Data: []byte("a")},
		{Seq: 1, Data: []byte("b")},
		{Seq: 2, Data: []byte("c"), Final: true},
	}
	for _, f := range frames {
		encoded, err := EncodeChunkFrame(f)
		if err != nil {
			t.Fatalf("EncodeChunkFrame: %v", err)
		}
		buf.Write(encoded)
	}

	dec := NewFrameDecoder(&buf)
	for i, want := range frames {
		got, err := dec.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: ReadFrame: %v", i, err)
		}
		if got.Seq != want.Seq || string(got.Data) != string(want.Data) || got.Final != want.Final {
			t.Fatalf("frame %d: got %+v, want %+v", i, got, want)
		}
	}

	if _, err := dec.ReadFrame(); err != io.EOF {
		t.Fatalf("expected io.EOF after last frame, got %v", err)
	}
}

func TestFrameDecoder_TruncatedLengthPrefix(t *testing.T) {
	dec := NewFrameDecoder(bytes.NewReader([]byte{0x00, 0x01}))
	_, err := dec.ReadFrame()
	if err == nil || !IsFrameError(err) {
		t.Fatalf("expected a FrameError, got %v", err)
	}
}

func TestFrameDecoder_OversizedPayload(t *testing.T) {
	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(MaxPayloadSize+1))

	dec := NewFrameDecoder(bytes.NewReader(lengthBuf[:]))
	_, err := dec.ReadFrame()
	if err == nil || !IsFrameError(err) {
		t.Fatalf("expected a FrameError for oversized payload, got %v", err)
	}
}

func TestFrameDecoder_TruncatedPayload(t *testing.T) {
	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], 10)
	data := append(lengthBuf[:], []byte("short")...)

	dec := NewFrameDecoder(bytes.NewReader(data))
	_, err := dec.ReadFrame()
	if err == nil || !IsFrameError(err) {
		t.Fatalf("expected a FrameError for truncated payload, got %v", err)
	}
}
