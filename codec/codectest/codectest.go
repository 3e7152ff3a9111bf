// Package codectest provides drivers for exercising codec stages from
// tests: push a set of record batches through an Encoder and collect the
// wire bytes, or push wire bytes through a Decoder and collect the
// decoded batches. Each codec package's own tests compose the two into
// round trips.
package codectest

import (
	"fmt"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/codec"
	"github.com/tracdap/storage-core/stream"
)

const eventTimeout = 5 * time.Second

// byteSink collects every buffer a Publisher[*buffer.Buffer] emits.
type byteSink struct {
	data []byte
	done chan error
}

func (s *byteSink) OnSubscribe(sub stream.Subscription) { sub.Request(1 << 30) }

func (s *byteSink) OnNext(buf *buffer.Buffer) {
	s.data = append(s.data, buf.Bytes()...)
	buf.Release()
}

func (s *byteSink) OnComplete() { s.done <- nil }
func (s *byteSink) OnError(err error) { s.done <- err }

// recordSink collects every record a Publisher[arrow.Record] emits. The
// sink owns the records it receives; Decode releases them through
// t.Cleanup and DecodeExpectError releases them before returning.
type recordSink struct {
	records []arrow.Record
	done    chan error
}

func (s *recordSink) OnSubscribe(sub stream.Subscription) { sub.Request(1 << 30) }

func (s *recordSink) OnNext(rec arrow.Record) { s.records = append(s.records, rec) }

func (s *recordSink) OnComplete() { s.done <- nil }
func (s *recordSink) OnError(err error) { s.done <- err }

// recordSource replays records on demand, completing after the last one.
type recordSource struct {
	records []arrow.Record
}

func (s *recordSource) Subscribe(sub stream.Subscriber[arrow.Record]) {
	sub.OnSubscribe(&recordSourceSub{sub: sub, records: s.records})
}

type recordSourceSub struct {
	sub     stream.Subscriber[arrow.Record]
	records []arrow.Record
	idx     int
	done    bool
}

func (s *recordSourceSub) Request(n int64) {
	if s.done {
		return
	}
	for ; n > 0 && s.idx < len(s.records); n-- {
		s.sub.OnNext(s.records[s.idx])
		s.idx++
	}
	if s.idx >= len(s.records) {
		s.done = true
		s.sub.OnComplete()
	}
}

func (s *recordSourceSub) Cancel() {
	if s.done {
		return
	}
	s.done = true
	for ; s.idx < len(s.records); s.idx++ {
		s.records[s.idx].Release()
	}
}

// Encode drives records through enc and returns the encoded bytes.
// Ownership of each record moves to the encoder; callers that need a
// record afterwards must Retain it first.
func Encode(t *testing.T, enc codec.Encoder, records []arrow.Record) []byte {
	t.Helper()
	sink := &byteSink{done: make(chan error, 1)}
	enc.Subscribe(sink)
	(&recordSource{records: records}).Subscribe(enc)

	select {
	case err := <-sink.done:
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
	case <-time.After(eventTimeout):
		t.Fatal("encode did not complete")
	}
	return sink.data
}

// Decode drives data through dec and returns the decoded records. The
// records are released via t.Cleanup.
func Decode(t *testing.T, dec codec.Decoder, data []byte) []arrow.Record {
	t.Helper()
	sink := &recordSink{done: make(chan error, 1)}
	dec.Subscribe(sink)

	dec.OnSubscribe(noopSubscription{})
	dec.OnNext(buffer.Wrap(data))
	dec.OnComplete()

	select {
	case err := <-sink.done:
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
	case <-time.After(eventTimeout):
		t.Fatal("decode did not complete")
	}

	records := sink.records
	t.Cleanup(func() {
		for _, rec := range records {
			rec.Release()
		}
	})
	return records
}

// DecodeExpectError drives data through dec and returns the terminal
// error, failing the test if the stream completes cleanly instead.
func DecodeExpectError(t *testing.T, dec codec.Decoder, data []byte) error {
	t.Helper()
	sink := &recordSink{done: make(chan error, 1)}
	dec.Subscribe(sink)

	dec.OnSubscribe(noopSubscription{})
	dec.OnNext(buffer.Wrap(data))
	dec.OnComplete()

	select {
	case err := <-sink.done:
		if err == nil {
			t.Fatal("decode succeeded on malformed input")
		}
		for _, rec := range sink.records {
			rec.Release()
		}
		return err
	case <-time.After(eventTimeout):
		t.Fatal("decode never terminated")
		return nil
	}
}

type noopSubscription struct{}

func (noopSubscription) Request(int64) {}
func (noopSubscription) Cancel() {}

// Rows flattens records into a row-major grid of plain Go values, so
// round-trip assertions hold even when a codec re-batches rows
// differently from the input batching.
func Rows(t *testing.T, records []arrow.Record) [][]any {
	t.Helper()
	var out [][]any
	for _, rec := range records {
		nrows := int(rec.NumRows())
		ncols := int(rec.NumCols())
		for r := 0; r < nrows; r++ {
			row := make([]any, ncols)
			for c := 0; c < ncols; c++ {
				row[c] = cell(t, rec.Column(c), r)
			}
			out = append(out, row)
		}
	}
	return out
}

func cell(t *testing.T, col arrow.Array, row int) any {
	t.Helper()
	if col.IsNull(row) {
		return nil
	}
	switch a := col.(type) {
	case *array.Boolean:
		return a.Value(row)
	case *array.Int32:
		return int64(a.Value(row))
	case *array.Int64:
		return a.Value(row)
	case *array.Float32:
		return float64(a.Value(row))
	case *array.Float64:
		return a.Value(row)
	case *array.String:
		return a.Value(row)
	case *array.Binary:
		return string(a.Value(row))
	default:
		t.Fatalf("unsupported column type %s", col.DataType().Name())
		return nil
	}
}

// AssertRowsEqual compares two row grids cell by cell.
func AssertRowsEqual(t *testing.T, got, want [][]any) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("row count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if len(got[i]) != len(want[i]) {
			t.Fatalf("row %d has %d columns, want %d", i, len(got[i]), len(want[i]))
		}
		for j := range want[i] {
			if fmt.Sprint(got[i][j]) != fmt.Sprint(want[i][j]) {
				t.Fatalf("cell [%d][%d] = %v, want %v", i, j, got[i][j], want[i][j])
			}
		}
	}
}
