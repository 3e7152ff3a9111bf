// Package arrowstream implements the ARROW_STREAM codec: the Arrow IPC
// streaming format (github.com/apache/arrow-go/v18/arrow/ipc): a
// continuous sequence of record batches with no footer, decodable as it
// arrives without buffering the whole chunk.
package arrowstream

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/tracdap/storage-core/codec"
	"github.com/tracdap/storage-core/codec/internal"
)

const Key = "ARROW_STREAM"

type arrowCodec struct{}

// New returns the ARROW_STREAM codec.
func New() codec.Codec { return arrowCodec{} }

func (arrowCodec) Key() string                  { return Key }
func (arrowCodec) DefaultFileExtension() string { return "arrow" }

func (arrowCodec) NewDecoder(alloc memory.Allocator, requiredSchema *arrow.Schema, _ codec.Options) (codec.Decoder, error) {
	return internal.NewStreamDecoder(func(r io.Reader) (internal.RecordSource, error) {
		return ipc.NewReader(r, ipc.WithAllocator(alloc))
	}, "decode.arrow_stream", requiredSchema, alloc), nil
}

func (arrowCodec) NewEncoder(alloc memory.Allocator, schema *arrow.Schema, _ codec.Options) (codec.Encoder, error) {
	return internal.NewStreamEncoder(func(w io.Writer) (internal.RecordSink, error) {
		return ipc.NewWriter(w, ipc.WithAllocator(alloc), ipc.WithSchema(schema)), nil
	}, "encode.arrow_stream")
}
