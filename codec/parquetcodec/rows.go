package parquetcodec

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"

	"github.com/tracdap/storage-core/sterr"
)

// recordToRows flattens rec's columns into parquet rows, column-major to
// row-major. Each row lists its values in the column order of the
// parquet schema built for rec (parquet.Group orders fields by name),
// with the definition level that marks a present value of an optional
// column.
func recordToRows(rec arrow.Record) ([]parquet.Row, error) {
	pschema, err := parquetSchema(rec.Schema())
	if err != nil {
		return nil, err
	}
	fields := pschema.Fields()
	nrows := int(rec.NumRows())
	rows := make([]parquet.Row, nrows)
	for r := 0; r < nrows; r++ {
		row := make(parquet.Row, len(fields))
		for c, f := range fields {
			v, err := arrowValue(rec.Column(rec.Schema().FieldIndices(f.Name())[0]), r)
			if err != nil {
				return nil, err
			}
			def := 0
			if f.Optional() && !v.IsNull() {
				def = 1
			}
			row[c] = v.Level(0, def, c)
		}
		rows[r] = row
	}
	return rows, nil
}

func arrowValue(col arrow.Array, row int) (parquet.Value, error) {
	if col.IsNull(row) {
		return parquet.NullValue(), nil
	}
	switch a := col.(type) {
	case *array.Boolean:
		return parquet.BooleanValue(a.Value(row)), nil
	case *array.Int32:
		return parquet.Int32Value(a.Value(row)), nil
	case *array.Int64:
		return parquet.Int64Value(a.Value(row)), nil
	case *array.Float32:
		return parquet.FloatValue(a.Value(row)), nil
	case *array.Float64:
		return parquet.DoubleValue(a.Value(row)), nil
	case *array.String:
		return parquet.ByteArrayValue([]byte(a.Value(row))), nil
	case *array.Binary:
		return parquet.ByteArrayValue(a.Value(row)), nil
	default:
		return parquet.Value{}, sterr.New(sterr.ParamsInvalid, "parquet.encode", col.DataType().Name(), nil)
	}
}

// rowBuilder accumulates parquet rows into an arrow.Record conforming to
// schema, one builder per column, matching the null-fill/column-order
// contract codec.Decoder promises.
type rowBuilder struct {
	schema   *arrow.Schema
	alloc    memory.Allocator
	builders []array.Builder
}

func newRowBuilder(schema *arrow.Schema, alloc memory.Allocator) *rowBuilder {
	rb := &rowBuilder{schema: schema, alloc: alloc, builders: make([]array.Builder, schema.NumFields())}
	for i, f := range schema.Fields() {
		rb.builders[i] = array.NewBuilder(alloc, f.Type)
	}
	return rb
}

// appendMap appends one decoded row, keyed by column name (the shape
// parquet.GenericReader[any] hands back for an untyped row), null-filling
// any schema column the row omitted.
func (rb *rowBuilder) appendMap(row map[string]any) error {
	for i, f := range rb.schema.Fields() {
		v, ok := row[f.Name]
		b := rb.builders[i]
		if !ok || v == nil {
			b.AppendNull()
			continue
		}
		switch builder := b.(type) {
		case *array.BooleanBuilder:
			val, ok := v.(bool)
			if !ok {
				return sterr.New(sterr.DataCorruption, "parquet.decode", f.Name, nil)
			}
			builder.Append(val)
		case *array.Int32Builder:
			val, err := asInt64(v)
			if err != nil {
				return sterr.New(sterr.DataCorruption, "parquet.decode", f.Name, err)
			}
			builder.Append(int32(val))
		case *array.Int64Builder:
			val, err := asInt64(v)
			if err != nil {
				return sterr.New(sterr.DataCorruption, "parquet.decode", f.Name, err)
			}
			builder.Append(val)
		case *array.Float32Builder:
			val, err := asFloat64(v)
			if err != nil {
				return sterr.New(sterr.DataCorruption, "parquet.decode", f.Name, err)
			}
			builder.Append(float32(val))
		case *array.Float64Builder:
			val, err := asFloat64(v)
			if err != nil {
				return sterr.New(sterr.DataCorruption, "parquet.decode", f.Name, err)
			}
			builder.Append(val)
		case *array.StringBuilder:
			switch s := v.(type) {
			case string:
				builder.Append(s)
			case []byte:
				builder.Append(string(s))
			default:
				return sterr.New(sterr.DataCorruption, "parquet.decode", f.Name, nil)
			}
		case *array.BinaryBuilder:
			switch s := v.(type) {
			case []byte:
				builder.Append(s)
			case string:
				builder.Append([]byte(s))
			default:
				return sterr.New(sterr.DataCorruption, "parquet.decode", f.Name, nil)
			}
		default:
			return sterr.New(sterr.DataCorruption, "parquet.decode", f.Name, nil)
		}
	}
	return nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, sterr.New(sterr.DataCorruption, "parquet.decode", "", nil)
	}
}

func asFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	default:
		return 0, sterr.New(sterr.DataCorruption, "parquet.decode", "", nil)
	}
}

func (rb *rowBuilder) numRows() int {
	if len(rb.builders) == 0 {
		return 0
	}
	return rb.builders[0].Len()
}

// build finalises the accumulated rows into a record and resets the
// builders for the next batch.
func (rb *rowBuilder) build() arrow.Record {
	n := int64(rb.numRows())
	cols := make([]arrow.Array, len(rb.builders))
	for i, b := range rb.builders {
		cols[i] = b.NewArray()
	}
	rec := array.NewRecord(rb.schema, cols, n)
	for _, c := range cols {
		c.Release()
	}
	return rec
}
