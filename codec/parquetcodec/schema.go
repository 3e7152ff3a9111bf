// Package parquetcodec implements the PARQUET codec over
// github.com/parquet-go/parquet-go, bridging its row-oriented model to
// the arrow.Record batches the rest of the pipeline speaks. Both
// directions cover the scalar column types the storage schema model uses
// (BOOLEAN, INTEGER, FLOAT, STRING, BINARY); a column outside that set
// fails encoder construction, and fails a decode stream once the file
// arrives, with STORAGE_PARAMS_INVALID rather than silently dropping
// data.
package parquetcodec

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/parquet-go/parquet-go"

	"github.com/tracdap/storage-core/sterr"
)

// parquetSchema builds a *parquet.Schema mirroring schema's field names,
// types and nullability.
func parquetSchema(schema *arrow.Schema) (*parquet.Schema, error) {
	group := make(parquet.Group, schema.NumFields())
	for _, f := range schema.Fields() {
		node, err := parquetNode(f.Type)
		if err != nil {
			return nil, sterr.New(sterr.ParamsInvalid, "parquet.schema", f.Name, err)
		}
		if f.Nullable {
			node = parquet.Optional(node)
		}
		group[f.Name] = node
	}
	return parquet.NewSchema("record", group), nil
}

// arrowSchemaOf recovers an *arrow.Schema from a file's own parquet
// schema, for self-describing decode: a caller that passes no required
// schema (nil or zero fields) reads the file with the column set it was
// written with.
func arrowSchemaOf(p *parquet.Schema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(p.Fields()))
	for _, f := range p.Fields() {
		dt, err := arrowFieldType(f)
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{Name: f.Name(), Type: dt, Nullable: f.Optional()})
	}
	return arrow.NewSchema(fields, nil), nil
}

func arrowFieldType(f parquet.Field) (arrow.DataType, error) {
	if !f.Leaf() {
		return nil, sterr.New(sterr.ParamsInvalid, "parquet.schema", f.Name(), nil)
	}
	t := f.Type()
	switch t.Kind() {
	case parquet.Boolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case parquet.Int32:
		return arrow.PrimitiveTypes.Int32, nil
	case parquet.Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case parquet.Float:
		return arrow.PrimitiveTypes.Float32, nil
	case parquet.Double:
		return arrow.PrimitiveTypes.Float64, nil
	case parquet.ByteArray, parquet.FixedLenByteArray:
		if lt := t.LogicalType(); lt != nil && lt.UTF8 != nil {
			return arrow.BinaryTypes.String, nil
		}
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, sterr.New(sterr.ParamsInvalid, "parquet.schema", f.Name(), nil)
	}
}

func parquetNode(t arrow.DataType) (parquet.Node, error) {
	switch t.ID() {
	case arrow.BOOL:
		return parquet.Leaf(parquet.BooleanType), nil
	case arrow.INT32:
		return parquet.Leaf(parquet.Int32Type), nil
	case arrow.INT64:
		return parquet.Leaf(parquet.Int64Type), nil
	case arrow.FLOAT32:
		return parquet.Leaf(parquet.FloatType), nil
	case arrow.FLOAT64:
		return parquet.Leaf(parquet.DoubleType), nil
	case arrow.STRING, arrow.LARGE_STRING:
		return parquet.String(), nil
	case arrow.BINARY, arrow.LARGE_BINARY:
		return parquet.Leaf(parquet.ByteArrayType), nil
	default:
		return nil, sterr.New(sterr.ParamsInvalid, "parquet.schema", t.Name(), nil)
	}
}
