package arrowfile

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/tracdap/storage-core/buffer"
	"github.com/tracdap/storage-core/codec/codectest"
	"github.com/tracdap/storage-core/sterr"
	"github.com/tracdap/storage-core/stream"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "flag", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)
}

func makeBatch(t *testing.T, schema *arrow.Schema, start, count int) arrow.Record {
	t.Helper()
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()
	for i := 0; i < count; i++ {
		b.Field(0).(*array.Int64Builder).Append(int64(start + i))
		b.Field(1).(*array.BooleanBuilder).Append((start+i)%2 == 0)
	}
	return b.NewRecord()
}

func TestArrowFile_RoundTrip(t *testing.T) {
	schema := testSchema()
	alloc := memory.NewGoAllocator()
	c := New()

	in := []arrow.Record{
		makeBatch(t, schema, 0, 8),
		makeBatch(t, schema, 8, 5),
	}
	var want [][]any
	for _, rec := range in {
		rec.Retain()
		want = append(want, codectest.Rows(t, []arrow.Record{rec})...)
	}

	enc, err := c.NewEncoder(alloc, schema, nil)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	data := codectest.Encode(t, enc, in)

	dec, err := c.NewDecoder(alloc, schema, nil)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	out := codectest.Decode(t, dec, data)

	codectest.AssertRowsEqual(t, codectest.Rows(t, out), want)

	for _, rec := range in {
		rec.Release()
	}
}

func TestArrowFile_MalformedInputIsDataCorruption(t *testing.T) {
	dec, err := New().NewDecoder(memory.NewGoAllocator(), testSchema(), nil)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	got := codectest.DecodeExpectError(t, dec, []byte("no footer here"))
	if !sterr.Is(got, sterr.DataCorruption) {
		t.Fatalf("err = %v, want DataCorruption", got)
	}
}

// lazySink requests records one at a time, so decoded batches queue in
// the decoder's pending list before completion.
type lazySink struct {
	sub       stream.Subscription
	records   []arrow.Record
	completed bool
	err       error
}

func (s *lazySink) OnSubscribe(sub stream.Subscription) { s.sub = sub }
func (s *lazySink) OnNext(rec arrow.Record) { s.records = append(s.records, rec) }
func (s *lazySink) OnComplete() { s.completed = true }
func (s *lazySink) OnError(err error) { s.err = err }

func TestArrowFile_CompletionFollowsDeferredDemand(t *testing.T) {
	schema := testSchema()
	alloc := memory.NewGoAllocator()
	c := New()

	enc, err := c.NewEncoder(alloc, schema, nil)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	data := codectest.Encode(t, enc, []arrow.Record{
		makeBatch(t, schema, 0, 3),
		makeBatch(t, schema, 3, 3),
	})

	decIface, err := c.NewDecoder(alloc, schema, nil)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	d := decIface.(*decoder)

	sink := &lazySink{}
	d.Subscribe(sink)
	d.OnSubscribe(noopUpstream{})
	d.OnNext(buffer.Wrap(data))
	d.OnComplete()

	if sink.completed {
		t.Fatal("completion must not pre-empt undelivered batches")
	}
	if len(sink.records) != 0 {
		t.Fatalf("records delivered without demand: %d", len(sink.records))
	}

	sink.sub.Request(1)
	if len(sink.records) != 1 || sink.completed {
		t.Fatalf("after Request(1): records=%d completed=%v", len(sink.records), sink.completed)
	}

	sink.sub.Request(1)
	if len(sink.records) != 2 {
		t.Fatalf("after second Request: records=%d", len(sink.records))
	}
	if !sink.completed {
		t.Fatal("expected completion once the pending queue drained")
	}
	if sink.err != nil {
		t.Fatalf("unexpected error: %v", sink.err)
	}
	for _, rec := range sink.records {
		rec.Release()
	}
}

type noopUpstream struct{}

func (noopUpstream) Request(int64) {}
func (noopUpstream) Cancel() {}
