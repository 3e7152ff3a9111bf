// Package jsoncodec implements the JSON codec: newline-delimited JSON
// objects, one per row. Unlike the Arrow and CSV codecs, arrow-go ships
// no JSON stream reader/writer pair for this shape, so both directions
// are built directly over encoding/json against the record-builder API —
// the decoder conforms each object to the required schema the same way
// the CSV codec's arrow/csv reader conforms header columns.
package jsoncodec

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/tracdap/storage-core/codec"
	"github.com/tracdap/storage-core/codec/internal"
)

const Key = "JSON"

type jsonCodec struct{}

// New returns the JSON codec.
func New() codec.Codec { return jsonCodec{} }

func (jsonCodec) Key() string                  { return Key }
func (jsonCodec) DefaultFileExtension() string { return "json" }

func (jsonCodec) NewDecoder(alloc memory.Allocator, requiredSchema *arrow.Schema, _ codec.Options) (codec.Decoder, error) {
	// jsonReader conforms every record to requiredSchema itself, so no
	// further projection pass is needed here.
	return internal.NewStreamDecoder(func(r io.Reader) (internal.RecordSource, error) {
		return newJSONReader(r, requiredSchema, alloc), nil
	}, "decode.json", nil, nil), nil
}

func (jsonCodec) NewEncoder(alloc memory.Allocator, schema *arrow.Schema, _ codec.Options) (codec.Encoder, error) {
	return internal.NewStreamEncoder(func(w io.Writer) (internal.RecordSink, error) {
		return newJSONWriter(w, schema), nil
	}, "encode.json")
}
