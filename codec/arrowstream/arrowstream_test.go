package arrowstream

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
	}, nil)
}

func makeBatch(t *testing.T, schema *arrow.Schema, start, count int) arrow.Record {
	t.Helper()
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()
	for i := 0; i < count; i++ {
		b.Field(0).(*array.Int64Builder).Append(int64(start + i))
		if (start+i)%5 == 0 {
			b.Field(1).(*array.StringBuilder).AppendNull()
		} else {
			b.Field(1).(*array.StringBuilder).Append("row")
		}
		b.Field(2).(*array.Float64Builder).Append(float64(start+i) / 2)
	}
	return b.NewRecord()
}

func TestArrowStream_RoundTrip(t *testing.T) {
	schema := testSchema()
	alloc := memory.NewGoAllocator()
	c := New()

	in := []arrow.Record{
		makeBatch(t, schema, 0, 10),
		makeBatch(t, schema, 10, 7),
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
	if len(data) == 0 {
		t.Fatal("encoder produced no bytes")
	}

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

func TestArrowStream_DecodeProjectsOntoRequiredSchema(t *testing.T) {
	written := testSchema()
	alloc := memory.NewGoAllocator()
	c := New()

	enc, err := c.NewEncoder(alloc, written, nil)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	data := codectest.Encode(t, enc, []arrow.Record{makeBatch(t, written, 0, 4)})

	// The caller asks for a different shape: "score" is dropped, "added"
	// does not exist in the chunk and must come back null-filled.
	required := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "added", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	}, nil)

	dec, err := c.NewDecoder(alloc, required, nil)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	out := codectest.Decode(t, dec, data)

	rows := codectest.Rows(t, out)
	if len(rows) != 4 {
		t.Fatalf("decoded %d rows, want 4", len(rows))
	}
	for i, row := range rows {
		if len(row) != 2 {
			t.Fatalf("row %d has %d columns, want 2", i, len(row))
		}
		if row[0] != int64(i) {
			t.Fatalf("row %d id = %v, want %d", i, row[0], i)
		}
		if row[1] != nil {
			t.Fatalf("row %d added = %v, want null", i, row[1])
		}
	}
}

func TestArrowStream_MalformedInputIsDataCorruption(t *testing.T) {
	alloc := memory.NewGoAllocator()
	dec, err := New().NewDecoder(alloc, testSchema(), nil)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	got := codectest.DecodeExpectError(t, dec, []byte("this is not an arrow stream"))
	if !sterr.Is(got, sterr.DataCorruption) {
		t.Fatalf("err = %v, want DataCorruption", got)
	}
}
