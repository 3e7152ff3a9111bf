package chunked

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame length constants for the on-wire chunk framing: a 4-byte
// big-endian length prefix followed by a msgpack payload.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including the
	// length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum msgpack payload size.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// ChunkFrame is one length-prefixed, msgpack-encoded segment of a
// stored chunk's byte stream. It is not part of the stored chunk layout
// (exactly one object at chunk-0.{ext}); it is a debug transport used
// by the storagectl cat --raw path to dump the raw segments a backend
// produced before codec decoding, and by storagectl frames to inspect
// such a dump.
type ChunkFrame struct {
	Seq   int    `msgpack:"seq"`
	Data  []byte `msgpack:"data"`
	Final bool   `msgpack:"final"`
}

// FrameError classifies a chunk-frame decoding failure.
type FrameError struct {
	Msg string
	Err error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error { return e.Err }

// EncodeChunkFrame encodes f as a length-prefixed msgpack frame.
func EncodeChunkFrame(f ChunkFrame) ([]byte, error) {
	payload, err := msgpack.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("encode chunk frame: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, &FrameError{Msg: fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize)}
	}
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf, nil
}

// FrameDecoder reads length-prefixed ChunkFrames from a stream, one
// ReadFrame call per frame.
type FrameDecoder struct {
	reader *bufio.Reader
}

// NewFrameDecoder wraps r (if not already a *bufio.Reader) to reduce
// syscall overhead when the source is an unbuffered pipe.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &FrameDecoder{reader: br}
}

// ReadFrame reads and decodes one frame. Returns io.EOF when the stream
// ends cleanly between frames.
func (d *FrameDecoder) ReadFrame() (ChunkFrame, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return ChunkFrame{}, io.EOF
		}
		return ChunkFrame{}, &FrameError{Msg: "failed to read length prefix", Err: err}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return ChunkFrame{}, &FrameError{Msg: fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize)}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return ChunkFrame{}, &FrameError{Msg: "failed to read payload", Err: err}
	}

	var frame ChunkFrame
	if err := msgpack.Unmarshal(payload, &frame); err != nil {
		return ChunkFrame{}, &FrameError{Msg: "failed to decode chunk frame", Err: err}
	}
	return frame, nil
}

// IsFrameError reports whether err is a framing failure (truncated
// stream, oversized frame, or malformed msgpack), as opposed to a clean
// io.EOF.
func IsFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe)
}
