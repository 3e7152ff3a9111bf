// Package csvcodec implements the CSV codec using
// github.com/apache/arrow-go/v18/arrow/csv, which already knows how to
// map a header row onto an arrow.Schema and infer/convert column types,
// so this package only has to wire it into the Decoder/Encoder stage
// shape the rest of the pipeline expects.
package csvcodec

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	arrowcsv "github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/tracdap/storage-core/codec"
	"github.com/tracdap/storage-core/codec/internal"
)

const Key = "CSV"

type csvCodec struct{}

// New returns the CSV codec.
func New() codec.Codec { return csvCodec{} }

func (csvCodec) Key() string                  { return Key }
func (csvCodec) DefaultFileExtension() string { return "csv" }

func (csvCodec) NewDecoder(alloc memory.Allocator, requiredSchema *arrow.Schema, opts codec.Options) (codec.Decoder, error) {
	readerOpts := []arrowcsv.Option{
		arrowcsv.WithAllocator(alloc),
		arrowcsv.WithHeader(true),
	}
	if delim, ok := opts["delimiter"]; ok && len(delim) == 1 {
		readerOpts = append(readerOpts, arrowcsv.WithComma(rune(delim[0])))
	}
	// arrowcsv.NewReader already conforms every record to requiredSchema
	// (null-filling columns the header omits, ignoring extras), so no
	// further projection pass is needed here.
	return internal.NewStreamDecoder(func(r io.Reader) (internal.RecordSource, error) {
		return arrowcsv.NewReader(r, requiredSchema, readerOpts...), nil
	}, "decode.csv", nil, nil), nil
}

func (csvCodec) NewEncoder(alloc memory.Allocator, schema *arrow.Schema, opts codec.Options) (codec.Encoder, error) {
	writerOpts := []arrowcsv.Option{
		arrowcsv.WithHeader(true),
	}
	if delim, ok := opts["delimiter"]; ok && len(delim) == 1 {
		writerOpts = append(writerOpts, arrowcsv.WithComma(rune(delim[0])))
	}
	return internal.NewStreamEncoder(func(w io.Writer) (internal.RecordSink, error) {
		return csvSink{arrowcsv.NewWriter(w, schema, writerOpts...)}, nil
	}, "encode.csv")
}

// csvSink adapts *arrowcsv.Writer to internal.RecordSink by mapping
// Close to Flush, since arrowcsv.Writer has no Close method of its own.
type csvSink struct {
	*arrowcsv.Writer
}

func (s csvSink) Close() error { return s.Flush() }
