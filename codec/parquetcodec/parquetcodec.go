package parquetcodec

import (
	"bytes"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"

	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/codec"
	"github.com/tracdap/storage-core/codec/internal"
	"github.com/tracdap/storage-core/sterr"
	"github.com/tracdap/storage-core/stream"
)

const Key = "PARQUET"

// rowBatchSize bounds how many decoded rows are assembled into one
// arrow.Record before it is handed downstream, so a large Parquet file
// still streams in bounded-size batches rather than one record per file.
const rowBatchSize = 4096

type parquetCodecImpl struct{}

// New returns the PARQUET codec.
func New() codec.Codec { return parquetCodecImpl{} }

func (parquetCodecImpl) Key() string                  { return Key }
func (parquetCodecImpl) DefaultFileExtension() string { return "parquet" }

func (parquetCodecImpl) NewDecoder(alloc memory.Allocator, requiredSchema *arrow.Schema, _ codec.Options) (codec.Decoder, error) {
	return &decoder{alloc: alloc, schema: requiredSchema}, nil
}

func (parquetCodecImpl) NewEncoder(alloc memory.Allocator, schema *arrow.Schema, opts codec.Options) (codec.Encoder, error) {
	pschema, err := parquetSchema(schema)
	if err != nil {
		return nil, err
	}
	return internal.NewStreamEncoder(func(w io.Writer) (internal.RecordSink, error) {
		return &parquetSink{w: parquet.NewGenericWriter[any](w, pschema)}, nil
	}, "encode.parquet")
}

// parquetSink adapts parquet.GenericWriter[any] to internal.RecordSink by
// converting each arrow.Record into parquet rows before writing them.
type parquetSink struct {
	w *parquet.GenericWriter[any]
}

func (s *parquetSink) Write(rec arrow.Record) error {
	rows, err := recordToRows(rec)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := s.w.WriteRows([]parquet.Row{row}); err != nil {
			return err
		}
	}
	return nil
}

func (s *parquetSink) Close() error { return s.w.Close() }

// decoder buffers the whole Parquet file (the format's footer requires
// random access) then streams decoded batches downstream through the
// same demand-accounted pending queue as codec/arrowfile.
type decoder struct {
	alloc  memory.Allocator
	schema *arrow.Schema
	buf    bytes.Buffer

	subscriber stream.Subscriber[arrow.Record]
	upstream   stream.Subscription

	pending     []arrow.Record
	nRequested  int64
	nDelivered  int64
	gotComplete bool
	terminal    bool
}

var _ codec.Decoder = (*decoder)(nil)

func (d *decoder) OnSubscribe(sub stream.Subscription) {
	d.upstream = sub
	sub.Request(1 << 30)
}

func (d *decoder) OnNext(b *buffer.Buffer) {
	defer b.Release()
	if d.terminal {
		return
	}
	d.buf.Write(b.Bytes())
}

func (d *decoder) OnComplete() {
	if d.terminal {
		return
	}
	data := d.buf.Bytes()
	// NewGenericReader panics on a malformed file; OpenFile is the
	// error-returning validation pass, run first so corruption surfaces
	// as a classified stream error.
	pfile, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		d.fail(sterr.New(sterr.DataCorruption, "decode.parquet", "", err))
		return
	}

	// With no required schema (nil or zero fields) the decode is
	// self-describing: recover the column set from the file's own schema
	// instead of projecting onto an empty one.
	schema := d.schema
	pschema := pfile.Schema()
	if schema == nil || schema.NumFields() == 0 {
		schema, err = arrowSchemaOf(pschema)
		if err != nil {
			d.fail(err)
			return
		}
	} else {
		pschema, err = parquetSchema(schema)
		if err != nil {
			d.fail(err)
			return
		}
	}

	reader := parquet.NewGenericReader[map[string]any](bytes.NewReader(data), pschema)
	defer reader.Close()

	rb := newRowBuilder(schema, d.alloc)
	rowBuf := make([]map[string]any, rowBatchSize)
	for i := range rowBuf {
		rowBuf[i] = make(map[string]any)
	}
	for {
		n, err := reader.Read(rowBuf)
		for i := 0; i < n; i++ {
			if aErr := rb.appendMap(rowBuf[i]); aErr != nil {
				d.fail(aErr)
				return
			}
		}
		if rb.numRows() >= rowBatchSize {
			d.enqueue(rb.build())
			rb = newRowBuilder(schema, d.alloc)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			d.fail(sterr.New(sterr.DataCorruption, "decode.parquet", "", err))
			return
		}
	}
	if rb.numRows() > 0 {
		d.enqueue(rb.build())
	}
	if len(d.pending) == 0 {
		d.emitComplete()
		return
	}
	d.gotComplete = true
}

func (d *decoder) fail(err error) {
	if d.terminal {
		return
	}
	d.terminal = true
	for _, rec := range d.pending {
		rec.Release()
	}
	d.pending = nil
	d.subscriber.OnError(err)
}

func (d *decoder) OnError(err error) { d.fail(err) }

func (d *decoder) enqueue(rec arrow.Record) {
	if len(d.pending) == 0 && d.nDelivered < d.nRequested {
		d.subscriber.OnNext(rec)
		d.nDelivered++
		return
	}
	d.pending = append(d.pending, rec)
}

func (d *decoder) emitComplete() {
	if d.terminal {
		return
	}
	d.terminal = true
	d.subscriber.OnComplete()
}

func (d *decoder) Subscribe(sub stream.Subscriber[arrow.Record]) {
	d.subscriber = sub
	sub.OnSubscribe(&decoderSub{d: d})
}

type decoderSub struct{ d *decoder }

func (s *decoderSub) Request(n int64) {
	d := s.d
	if d.terminal {
		return
	}
	d.nRequested += n
	for len(d.pending) > 0 && d.nDelivered < d.nRequested {
		rec := d.pending[0]
		d.pending = d.pending[1:]
		d.subscriber.OnNext(rec)
		d.nDelivered++
	}
	if d.gotComplete && len(d.pending) == 0 {
		d.emitComplete()
	}
}

func (s *decoderSub) Cancel() {
	d := s.d
	if d.terminal {
		return
	}
	d.terminal = true
	for _, rec := range d.pending {
		rec.Release()
	}
	d.pending = nil
	if d.upstream != nil {
		d.upstream.Cancel()
	}
}
