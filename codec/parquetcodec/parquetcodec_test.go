package parquetcodec

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/tracdap/storage-core/codec/codectest"
	"github.com/tracdap/storage-core/sterr"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64},
		{Name: "active", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)
}

func makeBatch(t *testing.T, schema *arrow.Schema, count int) arrow.Record {
	t.Helper()
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()
	for i := 0; i < count; i++ {
		b.Field(0).(*array.Int64Builder).Append(int64(i))
		if i%4 == 0 {
			b.Field(1).(*array.StringBuilder).AppendNull()
		} else {
			b.Field(1).(*array.StringBuilder).Append("item")
		}
		b.Field(2).(*array.Float64Builder).Append(float64(i) * 0.25)
		b.Field(3).(*array.BooleanBuilder).Append(i%2 == 1)
	}
	return b.NewRecord()
}

func TestParquet_RoundTrip(t *testing.T) {
	schema := testSchema()
	alloc := memory.NewGoAllocator()
	c := New()

	in := makeBatch(t, schema, 20)
	in.Retain()
	want := codectest.Rows(t, []arrow.Record{in})

	enc, err := c.NewEncoder(alloc, schema, nil)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	data := codectest.Encode(t, enc, []arrow.Record{in})
	if len(data) == 0 {
		t.Fatal("encoder produced no bytes")
	}

	dec, err := c.NewDecoder(alloc, schema, nil)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	out := codectest.Decode(t, dec, data)

	codectest.AssertRowsEqual(t, codectest.Rows(t, out), want)
	in.Release()
}

func TestParquet_SelfDescribingDecodeRecoversFileSchema(t *testing.T) {
	written := testSchema()
	alloc := memory.NewGoAllocator()
	c := New()

	in := makeBatch(t, written, 11)
	in.Retain()
	enc, err := c.NewEncoder(alloc, written, nil)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	data := codectest.Encode(t, enc, []arrow.Record{in})

	// No required schema: the decoder must recover the column set from
	// the file itself rather than delivering zero rows.
	dec, err := c.NewDecoder(alloc, arrow.NewSchema(nil, nil), nil)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	out := codectest.Decode(t, dec, data)

	var rows int64
	for _, rec := range out {
		rows += rec.NumRows()
	}
	if rows != 11 {
		t.Fatalf("decoded %d rows, want 11", rows)
	}
	if len(out) == 0 {
		t.Fatal("no batches delivered")
	}

	got := out[0].Schema()
	if got.NumFields() != written.NumFields() {
		t.Fatalf("recovered %d columns, want %d", got.NumFields(), written.NumFields())
	}
	for _, f := range written.Fields() {
		idxs := got.FieldIndices(f.Name)
		if len(idxs) == 0 {
			t.Fatalf("recovered schema missing column %q", f.Name)
		}
		if got.Field(idxs[0]).Type.ID() != f.Type.ID() {
			t.Fatalf("column %q recovered as %s, want %s",
				f.Name, got.Field(idxs[0]).Type, f.Type)
		}
	}

	// Values survive: check the id column cell by cell against the input.
	idIdx := got.FieldIndices("id")[0]
	idCol := out[0].Column(idIdx).(*array.Int64)
	for i := 0; i < idCol.Len(); i++ {
		if idCol.Value(i) != int64(i) {
			t.Fatalf("id[%d] = %d, want %d", i, idCol.Value(i), i)
		}
	}
	in.Release()
}

func TestParquet_UnsupportedColumnTypeRejectedAtConstruction(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "ts", Type: arrow.FixedWidthTypes.Timestamp_us},
	}, nil)
	_, err := New().NewEncoder(memory.NewGoAllocator(), schema, nil)
	if !sterr.Is(err, sterr.ParamsInvalid) {
		t.Fatalf("err = %v, want ParamsInvalid", err)
	}
}

func TestParquet_MalformedInputIsDataCorruption(t *testing.T) {
	dec, err := New().NewDecoder(memory.NewGoAllocator(), testSchema(), nil)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	got := codectest.DecodeExpectError(t, dec, []byte("PAR1 but not really"))
	if !sterr.Is(got, sterr.DataCorruption) {
		t.Fatalf("err = %v, want DataCorruption", got)
	}
}
